package outbox

import (
	"database/sql"
	"time"

	"github.com/crewline/crewline/errors"
)

const notificationColumns = `id, tenant_id, kind, subject_id, payload, status, attempts, last_error, created_at, updated_at, delivered_at`

// Store persists notifications in the notifications table.
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a notification. ID, status, and timestamps are
// defaulted when unset.
func (s *Store) Create(n *Notification) error {
	if n.ID == "" {
		n.ID = NewNotificationID()
	}
	if n.Status == "" {
		n.Status = StatusQueued
	}
	if err := n.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO notifications (id, tenant_id, kind, subject_id, payload, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TenantID, n.Kind, nullable(n.SubjectID), nullable(string(n.Payload)),
		string(n.Status), n.Attempts, nullable(n.LastError),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create notification for tenant %s", n.TenantID)
	}
	return nil
}

// Get retrieves a notification by ID
func (s *Store) Get(id string) (*Notification, error) {
	row := s.db.QueryRow(`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("notification %s not found", id)
		}
		return nil, errors.Wrap(err, "failed to get notification")
	}
	return n, nil
}

// listQueued returns the oldest queued notifications, up to limit.
func (s *Store) listQueued(limit int) ([]*Notification, error) {
	rows, err := s.db.Query(`
		SELECT `+notificationColumns+` FROM notifications
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, string(StatusQueued), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queued notifications")
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// claim flips one queued notification to delivering and counts the
// attempt. The status guard makes the claim atomic: a notification
// another worker already claimed reports false.
func (s *Store) claim(id string, now time.Time) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE notifications
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusDelivering), now.Format(time.RFC3339), id, string(StatusQueued))
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim notification %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check claim result")
	}
	return affected > 0, nil
}

// MarkDelivered finalizes a successful delivery
func (s *Store) MarkDelivered(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(`
		UPDATE notifications
		SET status = ?, last_error = NULL, updated_at = ?, delivered_at = ?
		WHERE id = ?`,
		string(StatusDelivered), now, now, id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark notification %s delivered", id)
	}
	return checkAffected(result, id)
}

// MarkFailed finalizes a notification whose attempt budget ran out
func (s *Store) MarkFailed(id, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(`
		UPDATE notifications
		SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(StatusFailed), nullable(lastError), now, id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark notification %s failed", id)
	}
	return checkAffected(result, id)
}

// Requeue puts a claimed notification back on the queue after a failed
// attempt, keeping the attempt count. The backoff window is computed
// from updated_at when the row is next considered for a claim.
func (s *Store) Requeue(id, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(`
		UPDATE notifications
		SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(StatusQueued), nullable(lastError), now, id)
	if err != nil {
		return errors.Wrapf(err, "failed to requeue notification %s", id)
	}
	return checkAffected(result, id)
}

// RecoverOrphans requeues notifications stuck in delivering, which
// happens when the process dies mid delivery. Attempt counts are kept
// so a poison row still exhausts its budget.
func (s *Store) RecoverOrphans() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(`
		UPDATE notifications
		SET status = ?, updated_at = ?
		WHERE status = ?`,
		string(StatusQueued), now, string(StatusDelivering))
	if err != nil {
		return 0, errors.Wrap(err, "failed to recover orphaned notifications")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count recovered notifications")
	}
	return int(affected), nil
}

// Counts reports how many notifications sit in each status
func (s *Store) Counts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count notifications")
	}
	defer rows.Close()

	counts := map[string]int{
		string(StatusQueued):     0,
		string(StatusDelivering): 0,
		string(StatusDelivered):  0,
		string(StatusFailed):     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan notification count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListByTenant returns a tenant's notifications, newest first
func (s *Store) ListByTenant(tenantID string, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+notificationColumns+` FROM notifications
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list notifications for tenant %s", tenantID)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// Prune deletes delivered and failed notifications older than
// retentionDays and returns how many rows were removed.
func (s *Store) Prune(retentionDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	result, err := s.db.Exec(`
		DELETE FROM notifications
		WHERE status IN (?, ?) AND updated_at < ?`,
		string(StatusDelivered), string(StatusFailed), cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune notifications")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pruned notifications")
	}
	return int(affected), nil
}

func checkAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("notification %s not found", id)
	}
	return nil
}

func collectNotifications(rows *sql.Rows) ([]*Notification, error) {
	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan notification")
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func scanNotification(row interface{ Scan(...interface{}) error }) (*Notification, error) {
	var n Notification
	var subjectID, payload, lastError, deliveredAt sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(&n.ID, &n.TenantID, &n.Kind, &subjectID, &payload, &status,
		&n.Attempts, &lastError, &createdAt, &updatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}

	n.Status = Status(status)
	n.SubjectID = subjectID.String
	if payload.Valid {
		n.Payload = []byte(payload.String)
	}
	n.LastError = lastError.String

	if n.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse created_at")
	}
	if n.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse updated_at")
	}
	if deliveredAt.Valid {
		at, err := time.Parse(time.RFC3339, deliveredAt.String)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse delivered_at")
		}
		n.DeliveredAt = &at
	}
	return &n, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
