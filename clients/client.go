// Package clients manages service clients and their equipment, including
// bulk CSV import with contact deduplication.
package clients

import (
	"time"

	"github.com/google/uuid"
)

// Client is a customer of a tenant, the party a job is performed for
type Client struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Equipment is a serviceable unit installed at a client site, e.g. a
// furnace or a backflow valve. Recurring templates may reference one.
type Equipment struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	ClientID     string     `json:"client_id,omitempty"`
	Label        string     `json:"label"`
	SerialNumber string     `json:"serial_number,omitempty"`
	InstallDate  *time.Time `json:"install_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewClientID generates a prefixed client identifier
func NewClientID() string {
	return "cl_" + uuid.NewString()
}

// NewEquipmentID generates a prefixed equipment identifier
func NewEquipmentID() string {
	return "eq_" + uuid.NewString()
}
