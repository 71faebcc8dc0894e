package outbox

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/errors"
	crewtest "github.com/crewline/crewline/internal/testing"
	"github.com/crewline/crewline/jobs"
	"github.com/crewline/crewline/tenants"
)

func newTestQueue(t *testing.T) (*Queue, *sql.DB, *tenants.Store) {
	t.Helper()
	conn := crewtest.CreateTestDB(t)
	return NewQueue(conn), conn, tenants.NewStore(conn)
}

func seedTenant(t *testing.T, store *tenants.Store, id, webhookURL string, active bool) {
	t.Helper()
	err := store.Create(&tenants.Tenant{
		ID:         id,
		Name:       "Tenant " + id,
		Tier:       tenants.TierStarter,
		IsActive:   active,
		WebhookURL: webhookURL,
	})
	require.NoError(t, err)
}

func queuedNotification(tenantID, id string) *Notification {
	return &Notification{
		ID:        id,
		TenantID:  tenantID,
		Kind:      KindJobCreated,
		SubjectID: "job_1",
		Payload:   json.RawMessage(`{"title":"Spring tune-up"}`),
	}
}

func TestEnqueueAndGet(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	n := &Notification{
		TenantID: "tn_1",
		Kind:     KindJobCreated,
		Payload:  json.RawMessage(`{"title":"Spring tune-up"}`),
	}
	require.NoError(t, q.Enqueue(n))
	assert.Contains(t, n.ID, "ntf_")

	got, err := q.Store().Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, "tn_1", got.TenantID)
	assert.JSONEq(t, `{"title":"Spring tune-up"}`, string(got.Payload))
	assert.Nil(t, got.DeliveredAt)
}

func TestEnqueueValidation(t *testing.T) {
	q, _, _ := newTestQueue(t)

	err := q.Enqueue(&Notification{Kind: KindJobCreated})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequest(err))

	err = q.Enqueue(&Notification{TenantID: "tn_1"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequest(err))
}

func TestGetNotificationNotFound(t *testing.T) {
	q, _, _ := newTestQueue(t)

	_, err := q.Store().Get("ntf_missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestClaimNextIsFIFO(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	// Same-second created_at ties break on ID.
	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_a")))
	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_b")))
	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_c")))

	first, err := q.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "ntf_a", first.ID)
	assert.Equal(t, StatusDelivering, first.Status)
	assert.Equal(t, 1, first.Attempts)

	second, err := q.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "ntf_b", second.ID)
}

func TestClaimNextEmptyQueue(t *testing.T) {
	q, _, _ := newTestQueue(t)

	n, err := q.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestClaimNextHonorsBackoff(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_a")))

	n, err := q.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, n)
	require.NoError(t, q.Requeue(n.ID, "connection refused"))

	// The first retry waits 30 seconds, so an immediate claim sees
	// nothing ready.
	n, err = q.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, n)

	q.timeNow = func() time.Time { return time.Now().Add(31 * time.Second) }
	n, err = q.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "ntf_a", n.ID)
	assert.Equal(t, 2, n.Attempts)
	assert.Equal(t, "connection refused", n.LastError)
}

func TestMarkDeliveredClearsError(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_a")))

	n, err := q.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, q.Requeue(n.ID, "timeout"))

	q.timeNow = func() time.Time { return time.Now().Add(time.Minute) }
	n, err = q.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, n)
	require.NoError(t, q.MarkDelivered(n.ID))

	got, err := q.Store().Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.Empty(t, got.LastError)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, 2, got.Attempts)
}

func TestRecoverOrphans(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_a")))
	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_b")))

	_, err := q.ClaimNext()
	require.NoError(t, err)
	_, err = q.ClaimNext()
	require.NoError(t, err)

	recovered, err := q.RecoverOrphans()
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	got, err := q.Store().Get("ntf_a")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	// Attempts survive recovery so a crash-looping row still exhausts
	// its budget.
	assert.Equal(t, 1, got.Attempts)
}

func TestCounts(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_a")))
	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_b")))
	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_c")))

	claimed, err := q.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, q.MarkDelivered(claimed.ID))

	claimed, err = q.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(claimed.ID, "gone"))

	counts, err := q.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[string(StatusQueued)])
	assert.Equal(t, 0, counts[string(StatusDelivering)])
	assert.Equal(t, 1, counts[string(StatusDelivered)])
	assert.Equal(t, 1, counts[string(StatusFailed)])
}

func TestListByTenant(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)
	seedTenant(t, tenantStore, "tn_2", "", true)

	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_a")))
	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_b")))
	require.NoError(t, q.Enqueue(queuedNotification("tn_2", "ntf_c")))

	list, err := q.Store().ListByTenant("tn_1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ntf_b", list[0].ID)
	assert.Equal(t, "ntf_a", list[1].ID)
}

func TestPruneOldNotifications(t *testing.T) {
	q, conn, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_old")))
	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_stuck")))

	claimed, err := q.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, q.MarkDelivered(claimed.ID))

	old := time.Now().UTC().AddDate(0, 0, -40).Format(time.RFC3339)
	_, err = conn.Exec(`UPDATE notifications SET updated_at = ? WHERE id = ?`, old, "ntf_old")
	require.NoError(t, err)
	// Old but still queued rows are never pruned.
	_, err = conn.Exec(`UPDATE notifications SET updated_at = ? WHERE id = ?`, old, "ntf_stuck")
	require.NoError(t, err)

	pruned, err := q.Store().Prune(30)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = q.Store().Get("ntf_old")
	assert.True(t, errors.IsNotFound(err))
	_, err = q.Store().Get("ntf_stuck")
	assert.NoError(t, err)
}

func TestJobCreatedNotification(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	job := &jobs.ScheduledJob{
		ID:       "job_1",
		TenantID: "tn_1",
		Title:    "Quarterly generator service",
	}
	require.NoError(t, q.JobCreated(job))

	n, err := q.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, KindJobCreated, n.Kind)
	assert.Equal(t, "job_1", n.SubjectID)

	var payload jobs.ScheduledJob
	require.NoError(t, json.Unmarshal(n.Payload, &payload))
	assert.Equal(t, "Quarterly generator service", payload.Title)
}

func TestImportCompletedNotification(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	require.NoError(t, q.ImportCompleted("tn_1", map[string]int{"imported": 12, "skipped": 3}))

	n, err := q.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, KindImportCompleted, n.Kind)
	assert.JSONEq(t, `{"imported":12,"skipped":3}`, string(n.Payload))
}

func TestSubscriberReceivesUpdates(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	ch := q.Subscribe()
	defer func() {
		q.Unsubscribe(ch)
		close(ch)
	}()

	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_a")))

	select {
	case n := <-ch:
		assert.Equal(t, "ntf_a", n.ID)
		assert.Equal(t, StatusQueued, n.Status)
	default:
		t.Fatal("expected enqueue notification on subscriber channel")
	}

	claimed, err := q.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed)

	select {
	case n := <-ch:
		assert.Equal(t, "ntf_a", n.ID)
		assert.Equal(t, StatusDelivering, n.Status)
	default:
		t.Fatal("expected claim notification on subscriber channel")
	}

	require.NoError(t, q.MarkDelivered("ntf_a"))

	select {
	case n := <-ch:
		assert.Equal(t, StatusDelivered, n.Status)
	default:
		t.Fatal("expected delivery notification on subscriber channel")
	}
}

func TestUnsubscribeStopsUpdates(t *testing.T) {
	q, _, tenantStore := newTestQueue(t)
	seedTenant(t, tenantStore, "tn_1", "", true)

	ch := q.Subscribe()
	q.Unsubscribe(ch)
	close(ch)

	require.NoError(t, q.Enqueue(queuedNotification("tn_1", "ntf_a")))
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{9, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempts); got != tt.want {
			t.Errorf("retryDelay(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}
