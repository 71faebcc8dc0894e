// Package outbox queues tenant notifications and delivers them to
// tenant webhooks with a bounded worker pool. Rows move through
// queued -> delivering -> delivered or failed; a failed attempt puts
// the row back on the queue with a capped backoff until the attempt
// budget runs out.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/crewline/errors"
)

// Status represents the delivery state of a notification
type Status string

const (
	StatusQueued     Status = "queued"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

// ValidStatus returns true if the status string is a valid Status
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusDelivering, StatusDelivered, StatusFailed:
		return true
	default:
		return false
	}
}

// Notification kinds. The kind names the domain event; the payload
// carries the event body and its structure is owned by the producer.
const (
	KindJobCreated      = "job.created"
	KindImportCompleted = "import.completed"
)

// Notification is one outbound event waiting for delivery
type Notification struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Kind        string          `json:"kind"`
	SubjectID   string          `json:"subject_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// Validate checks the fields a notification needs before it can be queued
func (n *Notification) Validate() error {
	if n.TenantID == "" {
		return errors.NewInvalidRequestError("notification tenant_id is required")
	}
	if n.Kind == "" {
		return errors.NewInvalidRequestError("notification kind is required")
	}
	return nil
}

// NewNotificationID generates a prefixed notification identifier
func NewNotificationID() string {
	return "ntf_" + uuid.NewString()
}
