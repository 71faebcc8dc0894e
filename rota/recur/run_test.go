package recur

import (
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/errors"
	crewtest "github.com/crewline/crewline/internal/testing"
)

func recordedRun(t *testing.T, store *RunStore, startedAt time.Time, generated int, triggeredBy string) *Run {
	t.Helper()
	finished := startedAt.Add(2 * time.Second).Format(time.RFC3339)
	run := &Run{
		ID:                 NewRunID(),
		StartedAt:          startedAt.Format(time.RFC3339),
		FinishedAt:         &finished,
		Generated:          generated,
		TemplatesProcessed: generated,
		TriggeredBy:        triggeredBy,
	}
	require.NoError(t, store.Record(run))
	return run
}

func TestRecordAndLatest(t *testing.T) {
	conn := crewtest.CreateTestDB(t)
	store := NewRunStore(conn)

	base := time.Date(2026, 9, 15, 6, 0, 0, 0, time.UTC)
	recordedRun(t, store, base, 3, TriggerTicker)
	newest := recordedRun(t, store, base.Add(time.Hour), 1, TriggerAPI)

	got, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, newest.ID, got.ID)
	assert.Equal(t, 1, got.Generated)
	assert.Equal(t, TriggerAPI, got.TriggeredBy)
	require.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.Errors)
}

func TestLatestWithNoRuns(t *testing.T) {
	conn := crewtest.CreateTestDB(t)
	store := NewRunStore(conn)

	_, err := store.Latest()
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRecordPreservesErrorsJSON(t *testing.T) {
	conn := crewtest.CreateTestDB(t)
	store := NewRunStore(conn)

	errs := `[{"template_id":"rt_1","message":"database table is locked"}]`
	run := &Run{
		ID:          NewRunID(),
		StartedAt:   time.Now().UTC().Format(time.RFC3339),
		ErrorCount:  1,
		Errors:      &errs,
		TriggeredBy: TriggerManual,
	}
	require.NoError(t, store.Record(run))

	got, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, 1, got.ErrorCount)
	require.NotNil(t, got.Errors)
	assert.Contains(t, *got.Errors, "rt_1")
	assert.Nil(t, got.FinishedAt)
}

func TestListRecent(t *testing.T) {
	conn := crewtest.CreateTestDB(t)
	store := NewRunStore(conn)

	base := time.Date(2026, 9, 15, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		recordedRun(t, store, base.Add(time.Duration(i)*time.Hour), i, TriggerTicker)
	}

	runs, err := store.ListRecent(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Generated) // newest first
	assert.Equal(t, 1, runs[1].Generated)

	all, err := store.ListRecent(0) // falls back to the default cap
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPruneOldRuns(t *testing.T) {
	conn := crewtest.CreateTestDB(t)
	store := NewRunStore(conn)

	recordedRun(t, store, time.Now().UTC().AddDate(0, 0, -120), 0, TriggerTicker)
	recordedRun(t, store, time.Now().UTC(), 0, TriggerTicker)

	deleted, err := store.Prune(90)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	runs, err := store.ListRecent(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
