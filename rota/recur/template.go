// Package recur implements the recurring job engine: cadence templates,
// the occurrence scheduler, and the generation sweep that materializes
// due templates into concrete scheduled jobs.
package recur

import (
	"time"

	"github.com/google/uuid"

	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/jobs"
)

// Template describes a recurring job's cadence plus the payload copied
// into every job it generates. NextOccurrence is the scheduler's pointer;
// it is mutated only by the generation sweep.
type Template struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenant_id"`
	Pattern  Pattern `json:"pattern"`
	Interval int     `json:"interval"`

	// AnchorDay is a weekday (0=Sunday..6=Saturday) for weekly templates
	// and a day-of-month (1..31) for the rest.
	AnchorDay int `json:"anchor_day"`

	// AdvanceDays is how many days before the occurrence the job is
	// materialized, so crews see upcoming work ahead of the date itself.
	AdvanceDays int `json:"advance_days"`

	EndDate        *time.Time `json:"end_date,omitempty"`
	IsActive       bool       `json:"is_active"`
	NextOccurrence time.Time  `json:"next_occurrence"`

	// Payload fields, copied verbatim into generated jobs.
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
	EquipmentID      string `json:"equipment_id,omitempty"`
	AssigneeID       string `json:"assignee_id,omitempty"`
	AutoAssign       bool   `json:"auto_assign"`
	JobType          string `json:"job_type,omitempty"`
	Priority         string `json:"priority"`
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`
	Address          string `json:"address,omitempty"`
	Notes            string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the template's cadence and payload fields
func (t *Template) Validate() error {
	if t.TenantID == "" {
		return errors.NewInvalidRequestError("template tenant is required")
	}
	if t.Title == "" {
		return errors.NewInvalidRequestError("template title is required")
	}
	if !ValidPattern(t.Pattern) {
		return errors.NewInvalidRequestError("unknown recurrence pattern: %s", t.Pattern)
	}
	if t.Interval < 1 {
		return errors.NewInvalidRequestError("interval must be at least 1, got %d", t.Interval)
	}
	if t.Pattern == PatternWeekly {
		if t.AnchorDay < 0 || t.AnchorDay > 6 {
			return errors.NewInvalidRequestError("weekly anchor day must be a weekday 0-6, got %d", t.AnchorDay)
		}
	} else {
		if t.AnchorDay < 1 || t.AnchorDay > 31 {
			return errors.NewInvalidRequestError("anchor day must be a day of month 1-31, got %d", t.AnchorDay)
		}
	}
	if t.AdvanceDays < 0 {
		return errors.NewInvalidRequestError("advance days must not be negative, got %d", t.AdvanceDays)
	}
	if t.NextOccurrence.IsZero() {
		return errors.NewInvalidRequestError("template next occurrence is required")
	}
	switch t.Priority {
	case "", jobs.PriorityLow, jobs.PriorityMedium, jobs.PriorityHigh, jobs.PriorityUrgent:
	default:
		return errors.NewInvalidRequestError("unknown priority: %s", t.Priority)
	}
	if t.EstimatedMinutes < 0 {
		return errors.NewInvalidRequestError("estimated minutes must not be negative, got %d", t.EstimatedMinutes)
	}
	return nil
}

// NewTemplateID generates a prefixed template identifier
func NewTemplateID() string {
	return "rt_" + uuid.NewString()
}
