package recur

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/crewline/errors"
)

// Run is the audit record of one generation sweep: when it ran, what
// invoked it, and what came out. One row per sweep.
type Run struct {
	ID                 string  `json:"id"`
	StartedAt          string  `json:"started_at"`             // RFC3339
	FinishedAt         *string `json:"finished_at,omitempty"`  // RFC3339
	Generated          int     `json:"generated"`
	TemplatesProcessed int     `json:"templates_processed"`
	ErrorCount         int     `json:"error_count"`
	Errors             *string `json:"errors,omitempty"` // JSON array of SweepError
	TriggeredBy        string  `json:"triggered_by"`
}

// Sweep trigger sources
const (
	TriggerManual = "manual"
	TriggerAPI    = "api"
	TriggerTicker = "ticker"
	TriggerCLI    = "cli"
)

// NewRunID generates a prefixed sweep run identifier
func NewRunID() string {
	return "swr_" + uuid.NewString()
}

// RunStore handles sweep run history persistence
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new sweep run store
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Record inserts a completed sweep run
func (s *RunStore) Record(run *Run) error {
	var finishedAt, errs interface{}
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}
	if run.Errors != nil {
		errs = *run.Errors
	}

	_, err := s.db.Exec(`
		INSERT INTO sweep_runs (
			id, started_at, finished_at, generated,
			templates_processed, error_count, errors, triggered_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, finishedAt, run.Generated,
		run.TemplatesProcessed, run.ErrorCount, errs, run.TriggeredBy,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record sweep run")
	}
	return nil
}

// Latest returns the most recent sweep run
func (s *RunStore) Latest() (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, finished_at, generated,
		       templates_processed, error_count, errors, triggered_by
		FROM sweep_runs
		ORDER BY started_at DESC
		LIMIT 1`)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.WrapNotFound(err, "no sweep has run yet")
		}
		return nil, errors.Wrap(err, "failed to get latest sweep run")
	}
	return run, nil
}

// ListRecent returns sweep runs newest first
func (s *RunStore) ListRecent(limit int) ([]*Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, generated,
		       templates_processed, error_count, errors, triggered_by
		FROM sweep_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sweep runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan sweep run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating sweep runs")
	}
	return runs, nil
}

// Prune deletes run history older than retentionDays and returns how
// many rows went away.
func (s *RunStore) Prune(retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	result, err := s.db.Exec(`DELETE FROM sweep_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune sweep runs")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(deleted), nil
}

func scanRun(row interface{ Scan(...interface{}) error }) (*Run, error) {
	var run Run
	var finishedAt, errs sql.NullString

	err := row.Scan(
		&run.ID, &run.StartedAt, &finishedAt, &run.Generated,
		&run.TemplatesProcessed, &run.ErrorCount, &errs, &run.TriggeredBy,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.String
	}
	if errs.Valid {
		run.Errors = &errs.String
	}
	return &run, nil
}
