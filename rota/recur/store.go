package recur

import (
	"database/sql"
	"time"

	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/jobs"
)

const dateFormat = "2006-01-02"

const templateColumns = `id, tenant_id, pattern, interval, anchor_day, advance_days,
		end_date, is_active, next_occurrence, title, description, client_id,
		equipment_id, assignee_id, auto_assign, job_type, priority,
		estimated_minutes, address, notes, created_at, updated_at`

// TemplateStore handles recurring template persistence
type TemplateStore struct {
	db *sql.DB
}

// NewTemplateStore creates a new template store
func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// Create inserts a new template after filling defaults and validating
func (s *TemplateStore) Create(t *Template) error {
	if t.ID == "" {
		t.ID = NewTemplateID()
	}
	if t.Interval == 0 {
		t.Interval = 1
	}
	if t.Priority == "" {
		t.Priority = jobs.PriorityMedium
	}
	if err := t.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	var endDate interface{}
	if t.EndDate != nil {
		endDate = t.EndDate.Format(dateFormat)
	}
	var estimated interface{}
	if t.EstimatedMinutes > 0 {
		estimated = t.EstimatedMinutes
	}

	_, err := s.db.Exec(`
		INSERT INTO recurring_templates (
			id, tenant_id, pattern, interval, anchor_day, advance_days,
			end_date, is_active, next_occurrence, title, description, client_id,
			equipment_id, assignee_id, auto_assign, job_type, priority,
			estimated_minutes, address, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, string(t.Pattern), t.Interval, t.AnchorDay, t.AdvanceDays,
		endDate, boolToInt(t.IsActive), t.NextOccurrence.Format(dateFormat),
		t.Title, nullable(t.Description), nullable(t.ClientID),
		nullable(t.EquipmentID), nullable(t.AssigneeID), boolToInt(t.AutoAssign),
		nullable(t.JobType), t.Priority, estimated,
		nullable(t.Address), nullable(t.Notes),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create template")
	}

	return nil
}

// Get retrieves a template by ID
func (s *TemplateStore) Get(id string) (*Template, error) {
	row := s.db.QueryRow(`SELECT `+templateColumns+` FROM recurring_templates WHERE id = ?`, id)

	t, err := scanTemplate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("template %s not found", id)
		}
		return nil, errors.Wrap(err, "failed to get template")
	}
	return t, nil
}

// ListActive returns every active template across all tenants, ordered by
// next occurrence. The sweep depends on seeing the full set, so there is
// deliberately no limit here.
func (s *TemplateStore) ListActive() ([]*Template, error) {
	rows, err := s.db.Query(`
		SELECT ` + templateColumns + `
		FROM recurring_templates
		WHERE is_active = 1
		ORDER BY next_occurrence, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active templates")
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// ListByTenant returns a tenant's templates, active and inactive
func (s *TemplateStore) ListByTenant(tenantID string) ([]*Template, error) {
	rows, err := s.db.Query(`
		SELECT `+templateColumns+`
		FROM recurring_templates
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT 500`, tenantID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list templates for tenant %s", tenantID)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// Update rewrites a template's cadence and payload fields
func (s *TemplateStore) Update(t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	t.UpdatedAt = now

	var endDate interface{}
	if t.EndDate != nil {
		endDate = t.EndDate.Format(dateFormat)
	}
	var estimated interface{}
	if t.EstimatedMinutes > 0 {
		estimated = t.EstimatedMinutes
	}

	result, err := s.db.Exec(`
		UPDATE recurring_templates
		SET pattern = ?, interval = ?, anchor_day = ?, advance_days = ?,
		    end_date = ?, is_active = ?, next_occurrence = ?,
		    title = ?, description = ?, client_id = ?, equipment_id = ?,
		    assignee_id = ?, auto_assign = ?, job_type = ?, priority = ?,
		    estimated_minutes = ?, address = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		string(t.Pattern), t.Interval, t.AnchorDay, t.AdvanceDays,
		endDate, boolToInt(t.IsActive), t.NextOccurrence.Format(dateFormat),
		t.Title, nullable(t.Description), nullable(t.ClientID), nullable(t.EquipmentID),
		nullable(t.AssigneeID), boolToInt(t.AutoAssign), nullable(t.JobType), t.Priority,
		estimated, nullable(t.Address), nullable(t.Notes),
		now.Format(time.RFC3339), t.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update template")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("template %s not found", t.ID)
	}
	return nil
}

// SetActive toggles a template without touching its schedule. Templates
// are never deleted; deactivation is the retirement path.
func (s *TemplateStore) SetActive(id string, active bool) error {
	result, err := s.db.Exec(`
		UPDATE recurring_templates SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to set template active state")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("template %s not found", id)
	}
	return nil
}

// AdvancePointer moves next_occurrence from its current value to the
// next one. The guard on the current value means a concurrent sweep
// that already advanced the pointer turns this into a no-op failure
// instead of a silent double advance that would skip an occurrence.
func (s *TemplateStore) AdvancePointer(id string, from, to time.Time) error {
	result, err := s.db.Exec(`
		UPDATE recurring_templates
		SET next_occurrence = ?, updated_at = ?
		WHERE id = ? AND next_occurrence = ?`,
		to.Format(dateFormat), time.Now().UTC().Format(time.RFC3339),
		id, from.Format(dateFormat),
	)
	if err != nil {
		return errors.Wrap(err, "failed to advance template pointer")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return errors.Newf("template %s pointer is no longer at %s", id, from.Format(dateFormat))
	}
	return nil
}

// CountActiveForTenant reports how many active templates a tenant has,
// which is what plan limits are enforced against.
func (s *TemplateStore) CountActiveForTenant(tenantID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM recurring_templates
		WHERE tenant_id = ? AND is_active = 1`, tenantID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count active templates for tenant %s", tenantID)
	}
	return count, nil
}

func collectTemplates(rows *sql.Rows) ([]*Template, error) {
	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan template")
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating templates")
	}
	return templates, nil
}

func scanTemplate(row interface{ Scan(...interface{}) error }) (*Template, error) {
	var t Template
	var pattern string
	var endDate, description, clientID, equipmentID, assigneeID sql.NullString
	var jobType, address, notes sql.NullString
	var estimated sql.NullInt64
	var isActive, autoAssign int
	var nextOccurrence, createdAt, updatedAt string

	err := row.Scan(
		&t.ID, &t.TenantID, &pattern, &t.Interval, &t.AnchorDay, &t.AdvanceDays,
		&endDate, &isActive, &nextOccurrence, &t.Title, &description, &clientID,
		&equipmentID, &assigneeID, &autoAssign, &jobType, &t.Priority,
		&estimated, &address, &notes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Pattern = Pattern(pattern)
	t.IsActive = isActive != 0
	t.AutoAssign = autoAssign != 0
	t.Description = description.String
	t.ClientID = clientID.String
	t.EquipmentID = equipmentID.String
	t.AssigneeID = assigneeID.String
	t.JobType = jobType.String
	t.Address = address.String
	t.Notes = notes.String
	t.EstimatedMinutes = int(estimated.Int64)

	if t.NextOccurrence, err = time.Parse(dateFormat, nextOccurrence); err != nil {
		return nil, errors.Wrap(err, "failed to parse next occurrence")
	}
	if endDate.Valid {
		parsed, err := time.Parse(dateFormat, endDate.String)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse end date")
		}
		t.EndDate = &parsed
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse created_at")
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse updated_at")
	}

	return &t, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
