// Package jobs manages scheduled work orders, both generated from
// recurring templates and created one-off.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// ScheduledJob is a concrete work order on a specific calendar date
type ScheduledJob struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	RecurringTemplateID string    `json:"recurring_template_id,omitempty"` // empty for one-off jobs
	ScheduledDate       time.Time `json:"scheduled_date"`
	Status              string    `json:"status"`
	Title               string    `json:"title"`
	Description         string    `json:"description,omitempty"`
	ClientID            string    `json:"client_id,omitempty"`
	EquipmentID         string    `json:"equipment_id,omitempty"`
	AssignedTo          string    `json:"assigned_to,omitempty"`
	JobType             string    `json:"job_type,omitempty"`
	Priority            string    `json:"priority"`
	EstimatedMinutes    int       `json:"estimated_minutes,omitempty"`
	Address             string    `json:"address,omitempty"`
	Notes               string    `json:"notes,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Job status constants
const (
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCanceled   = "canceled"
)

// Priority constants
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidStatus reports whether status is a known job status
func ValidStatus(status string) bool {
	switch status {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// NewJobID generates a prefixed job identifier
func NewJobID() string {
	return "job_" + uuid.NewString()
}
