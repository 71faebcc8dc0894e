package jobs

import (
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/crewline/crewline/errors"
)

const dateFormat = "2006-01-02"

// Store handles scheduled job persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new scheduled job. A violation of the one job per
// template per date index comes back wrapping errors.ErrDuplicate so the
// scheduler can tell "already generated" apart from real failures.
func (s *Store) Create(j *ScheduledJob) error {
	if j.ID == "" {
		j.ID = NewJobID()
	}
	if j.Status == "" {
		j.Status = StatusScheduled
	}
	if j.Priority == "" {
		j.Priority = PriorityMedium
	}
	if j.Title == "" {
		return errors.NewInvalidRequestError("job title is required")
	}
	if j.ScheduledDate.IsZero() {
		return errors.NewInvalidRequestError("job scheduled date is required")
	}

	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	var estimated interface{}
	if j.EstimatedMinutes > 0 {
		estimated = j.EstimatedMinutes
	}

	_, err := s.db.Exec(`
		INSERT INTO scheduled_jobs (
			id, tenant_id, recurring_template_id, scheduled_date, status,
			title, description, client_id, equipment_id, assigned_to,
			job_type, priority, estimated_minutes, address, notes,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TenantID, nullable(j.RecurringTemplateID),
		j.ScheduledDate.Format(dateFormat), j.Status,
		j.Title, nullable(j.Description), nullable(j.ClientID), nullable(j.EquipmentID),
		nullable(j.AssignedTo), nullable(j.JobType), j.Priority, estimated,
		nullable(j.Address), nullable(j.Notes),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return errors.Wrapf(errors.ErrDuplicate,
				"job for template %s on %s", j.RecurringTemplateID, j.ScheduledDate.Format(dateFormat))
		}
		return errors.Wrap(err, "failed to create scheduled job")
	}

	return nil
}

// Get retrieves a job by ID
func (s *Store) Get(id string) (*ScheduledJob, error) {
	row := s.db.QueryRow(selectColumns+` FROM scheduled_jobs WHERE id = ?`, id)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("job %s not found", id)
		}
		return nil, errors.Wrap(err, "failed to get job")
	}
	return j, nil
}

// ExistsForTemplateOnDate reports whether a job generated from the given
// template already exists for the occurrence date.
func (s *Store) ExistsForTemplateOnDate(templateID string, date time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM scheduled_jobs
			WHERE recurring_template_id = ? AND scheduled_date = ?
		)`, templateID, date.Format(dateFormat),
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check for existing job")
	}
	return exists, nil
}

// ListByTenant returns a tenant's jobs, newest scheduled date first.
// from and to bound scheduled_date inclusively when non-nil.
func (s *Store) ListByTenant(tenantID string, from, to *time.Time) ([]*ScheduledJob, error) {
	query := selectColumns + ` FROM scheduled_jobs WHERE tenant_id = ?`
	args := []interface{}{tenantID}

	if from != nil {
		query += ` AND scheduled_date >= ?`
		args = append(args, from.Format(dateFormat))
	}
	if to != nil {
		query += ` AND scheduled_date <= ?`
		args = append(args, to.Format(dateFormat))
	}
	query += ` ORDER BY scheduled_date DESC, created_at DESC LIMIT 1000`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var out []*ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListForTemplate returns all jobs generated from a template, oldest first
func (s *Store) ListForTemplate(templateID string) ([]*ScheduledJob, error) {
	rows, err := s.db.Query(
		selectColumns+` FROM scheduled_jobs WHERE recurring_template_id = ? ORDER BY scheduled_date ASC`,
		templateID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs for template")
	}
	defer rows.Close()

	var out []*ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateStatus transitions a job to a new status
func (s *Store) UpdateStatus(id, status string) error {
	if !ValidStatus(status) {
		return errors.NewInvalidRequestError("unknown job status %q", status)
	}

	result, err := s.db.Exec(`
		UPDATE scheduled_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("job %s not found", id)
	}
	return nil
}

// CountForTenantInMonth counts generated jobs for a tenant whose
// scheduled date falls inside the given calendar month (period is
// YYYY-MM). One-off jobs are not counted against plan quotas.
func (s *Store) CountForTenantInMonth(tenantID, period string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM scheduled_jobs
		WHERE tenant_id = ? AND recurring_template_id IS NOT NULL
		  AND scheduled_date >= ? AND scheduled_date <= ?`,
		tenantID, period+"-01", period+"-31",
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count jobs for period")
	}
	return count, nil
}

const selectColumns = `
	SELECT id, tenant_id, recurring_template_id, scheduled_date, status,
	       title, description, client_id, equipment_id, assigned_to,
	       job_type, priority, estimated_minutes, address, notes,
	       created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*ScheduledJob, error) {
	var j ScheduledJob
	var templateID, description, clientID, equipmentID, assignedTo, jobType, address, notes sql.NullString
	var estimated sql.NullInt64
	var scheduledDate, createdAt, updatedAt string

	err := row.Scan(
		&j.ID, &j.TenantID, &templateID, &scheduledDate, &j.Status,
		&j.Title, &description, &clientID, &equipmentID, &assignedTo,
		&jobType, &j.Priority, &estimated, &address, &notes,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if templateID.Valid {
		j.RecurringTemplateID = templateID.String
	}
	if description.Valid {
		j.Description = description.String
	}
	if clientID.Valid {
		j.ClientID = clientID.String
	}
	if equipmentID.Valid {
		j.EquipmentID = equipmentID.String
	}
	if assignedTo.Valid {
		j.AssignedTo = assignedTo.String
	}
	if jobType.Valid {
		j.JobType = jobType.String
	}
	if address.Valid {
		j.Address = address.String
	}
	if notes.Valid {
		j.Notes = notes.String
	}
	if estimated.Valid {
		j.EstimatedMinutes = int(estimated.Int64)
	}

	j.ScheduledDate, err = time.Parse(dateFormat, scheduledDate)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse scheduled_date for job %s", j.ID)
	}
	j.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", j.ID)
	}
	j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", j.ID)
	}

	return &j, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
