// Package tenants manages tenant accounts, subscription tiers, and
// account health scoring.
package tenants

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a field-service company account
type Tenant struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Tier        string     `json:"tier"`
	IsActive    bool       `json:"is_active"`
	WebhookURL  string     `json:"webhook_url,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Subscription tier constants
const (
	TierStarter    = "starter"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// ValidTier reports whether tier is a known subscription tier
func ValidTier(tier string) bool {
	switch tier {
	case TierStarter, TierPro, TierEnterprise:
		return true
	}
	return false
}

// NewTenantID generates a prefixed tenant identifier
func NewTenantID() string {
	return "tn_" + uuid.NewString()
}
