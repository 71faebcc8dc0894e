package tenants

import (
	"database/sql"
	"time"

	"github.com/crewline/crewline/errors"
)

// Store handles tenant persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new tenant store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new tenant. Assigns an ID when the caller has not.
func (s *Store) Create(t *Tenant) error {
	if t.ID == "" {
		t.ID = NewTenantID()
	}
	if t.Tier == "" {
		t.Tier = TierStarter
	}
	if !ValidTier(t.Tier) {
		return errors.NewInvalidRequestError("unknown tier %q", t.Tier)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	var lastLogin interface{}
	if t.LastLoginAt != nil {
		lastLogin = t.LastLoginAt.Format(time.RFC3339)
	}

	var webhook interface{}
	if t.WebhookURL != "" {
		webhook = t.WebhookURL
	}

	_, err := s.db.Exec(`
		INSERT INTO tenants (id, name, tier, is_active, webhook_url, last_login_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Tier, boolToInt(t.IsActive), webhook, lastLogin,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create tenant")
	}

	return nil
}

// Get retrieves a tenant by ID
func (s *Store) Get(id string) (*Tenant, error) {
	row := s.db.QueryRow(`
		SELECT id, name, tier, is_active, webhook_url, last_login_at, created_at, updated_at
		FROM tenants WHERE id = ?`, id)

	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("tenant %s not found", id)
		}
		return nil, errors.Wrap(err, "failed to get tenant")
	}
	return t, nil
}

// List returns all tenants ordered by name
func (s *Store) List() ([]*Tenant, error) {
	rows, err := s.db.Query(`
		SELECT id, name, tier, is_active, webhook_url, last_login_at, created_at, updated_at
		FROM tenants ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tenants")
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan tenant")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update persists name, tier, webhook URL, and active flag changes
func (s *Store) Update(t *Tenant) error {
	if !ValidTier(t.Tier) {
		return errors.NewInvalidRequestError("unknown tier %q", t.Tier)
	}

	var webhook interface{}
	if t.WebhookURL != "" {
		webhook = t.WebhookURL
	}

	result, err := s.db.Exec(`
		UPDATE tenants
		SET name = ?, tier = ?, is_active = ?, webhook_url = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Tier, boolToInt(t.IsActive), webhook,
		time.Now().UTC().Format(time.RFC3339), t.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update tenant")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("tenant %s not found", t.ID)
	}
	return nil
}

// RecordLogin stamps last_login_at, feeding health scoring
func (s *Store) RecordLogin(id string, at time.Time) error {
	result, err := s.db.Exec(`
		UPDATE tenants SET last_login_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record login")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("tenant %s not found", id)
	}
	return nil
}

// HealthStats is the raw activity data health scoring runs on
type HealthStats struct {
	TenantID        string
	ActiveTemplates int
	JobsLast30Days  int
	LastLoginAt     *time.Time
	HasWebhook      bool
}

// GatherHealthStats collects the activity inputs for a tenant's health
// score. asOf bounds the 30 day job window so scoring is reproducible.
func (s *Store) GatherHealthStats(tenantID string, asOf time.Time) (*HealthStats, error) {
	t, err := s.Get(tenantID)
	if err != nil {
		return nil, err
	}

	stats := &HealthStats{
		TenantID:    t.ID,
		LastLoginAt: t.LastLoginAt,
		HasWebhook:  t.WebhookURL != "",
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM recurring_templates
		WHERE tenant_id = ? AND is_active = 1`, tenantID,
	).Scan(&stats.ActiveTemplates)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count active templates")
	}

	windowStart := asOf.AddDate(0, 0, -30).Format("2006-01-02")
	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM scheduled_jobs
		WHERE tenant_id = ? AND recurring_template_id IS NOT NULL AND created_at >= ?`,
		tenantID, windowStart,
	).Scan(&stats.JobsLast30Days)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count recent jobs")
	}

	return stats, nil
}

func scanTenant(row interface{ Scan(...interface{}) error }) (*Tenant, error) {
	var t Tenant
	var isActive int
	var webhook, lastLogin sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.Name, &t.Tier, &isActive, &webhook, &lastLogin, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.IsActive = isActive != 0
	if webhook.Valid {
		t.WebhookURL = webhook.String
	}
	if lastLogin.Valid {
		parsed, err := time.Parse(time.RFC3339, lastLogin.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last_login_at for tenant %s", t.ID)
		}
		t.LastLoginAt = &parsed
	}

	t.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for tenant %s", t.ID)
	}
	t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for tenant %s", t.ID)
	}

	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
