package jobs

import (
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/errors"
	crewtest "github.com/crewline/crewline/internal/testing"
)

func seedTenantAndTemplate(t *testing.T, store *Store) {
	t.Helper()
	_, err := store.db.Exec(`
		INSERT INTO tenants (id, name, tier, created_at, updated_at)
		VALUES ('tn_1', 'Fixture Co', 'pro', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = store.db.Exec(`
		INSERT INTO recurring_templates
		(id, tenant_id, pattern, interval, anchor_day, next_occurrence, title, created_at, updated_at)
		VALUES ('rt_1', 'tn_1', 'monthly', 1, 15, '2026-09-15', 'Filter swap', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateAndGet(t *testing.T) {
	db := crewtest.CreateTestDB(t)
	store := NewStore(db)
	seedTenantAndTemplate(t, store)

	j := &ScheduledJob{
		TenantID:            "tn_1",
		RecurringTemplateID: "rt_1",
		ScheduledDate:       date(2026, 9, 15),
		Title:               "Filter swap",
		AssignedTo:          "tech_42",
		JobType:             "maintenance",
		Priority:            PriorityHigh,
		EstimatedMinutes:    45,
	}
	require.NoError(t, store.Create(j))
	assert.Contains(t, j.ID, "job_")

	retrieved, err := store.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, "Filter swap", retrieved.Title)
	assert.Equal(t, "rt_1", retrieved.RecurringTemplateID)
	assert.Equal(t, "2026-09-15", retrieved.ScheduledDate.Format("2006-01-02"))
	assert.Equal(t, StatusScheduled, retrieved.Status)
	assert.Equal(t, "tech_42", retrieved.AssignedTo)
	assert.Equal(t, 45, retrieved.EstimatedMinutes)
}

func TestCreateDuplicateForTemplateDate(t *testing.T) {
	db := crewtest.CreateTestDB(t)
	store := NewStore(db)
	seedTenantAndTemplate(t, store)

	first := &ScheduledJob{
		TenantID:            "tn_1",
		RecurringTemplateID: "rt_1",
		ScheduledDate:       date(2026, 9, 15),
		Title:               "Filter swap",
	}
	require.NoError(t, store.Create(first))

	second := &ScheduledJob{
		TenantID:            "tn_1",
		RecurringTemplateID: "rt_1",
		ScheduledDate:       date(2026, 9, 15),
		Title:               "Filter swap",
	}
	err := store.Create(second)
	require.Error(t, err)
	assert.True(t, errors.IsDuplicate(err), "unique index hit should map to the duplicate sentinel")
}

func TestCreateAllowsSameDateForOneOffJobs(t *testing.T) {
	db := crewtest.CreateTestDB(t)
	store := NewStore(db)
	seedTenantAndTemplate(t, store)

	for i := 0; i < 2; i++ {
		err := store.Create(&ScheduledJob{
			TenantID:      "tn_1",
			ScheduledDate: date(2026, 9, 15),
			Title:         "Walk-in repair",
		})
		require.NoError(t, err)
	}
}

func TestExistsForTemplateOnDate(t *testing.T) {
	db := crewtest.CreateTestDB(t)
	store := NewStore(db)
	seedTenantAndTemplate(t, store)

	exists, err := store.ExistsForTemplateOnDate("rt_1", date(2026, 9, 15))
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Create(&ScheduledJob{
		TenantID:            "tn_1",
		RecurringTemplateID: "rt_1",
		ScheduledDate:       date(2026, 9, 15),
		Title:               "Filter swap",
	}))

	exists, err = store.ExistsForTemplateOnDate("rt_1", date(2026, 9, 15))
	require.NoError(t, err)
	assert.True(t, exists)

	// Different date stays clear
	exists, err = store.ExistsForTemplateOnDate("rt_1", date(2026, 10, 15))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListByTenantDateBounds(t *testing.T) {
	db := crewtest.CreateTestDB(t)
	store := NewStore(db)
	seedTenantAndTemplate(t, store)

	for _, d := range []time.Time{
		date(2026, 8, 1), date(2026, 8, 15), date(2026, 9, 1),
	} {
		require.NoError(t, store.Create(&ScheduledJob{
			TenantID:      "tn_1",
			ScheduledDate: d,
			Title:         "Visit",
		}))
	}

	from := date(2026, 8, 10)
	to := date(2026, 8, 31)
	list, err := store.ListByTenant("tn_1", &from, &to)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2026-08-15", list[0].ScheduledDate.Format("2006-01-02"))

	all, err := store.ListByTenant("tn_1", nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest scheduled date first
	assert.Equal(t, "2026-09-01", all[0].ScheduledDate.Format("2006-01-02"))
}

func TestUpdateStatus(t *testing.T) {
	db := crewtest.CreateTestDB(t)
	store := NewStore(db)
	seedTenantAndTemplate(t, store)

	j := &ScheduledJob{TenantID: "tn_1", ScheduledDate: date(2026, 9, 15), Title: "Visit"}
	require.NoError(t, store.Create(j))

	require.NoError(t, store.UpdateStatus(j.ID, StatusCompleted))

	retrieved, err := store.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, retrieved.Status)

	err = store.UpdateStatus(j.ID, "bogus")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequest(err))

	err = store.UpdateStatus("job_missing", StatusCanceled)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestCountForTenantInMonth(t *testing.T) {
	db := crewtest.CreateTestDB(t)
	store := NewStore(db)
	seedTenantAndTemplate(t, store)

	// Two generated in September, one in August, one manual in September
	require.NoError(t, store.Create(&ScheduledJob{
		TenantID: "tn_1", RecurringTemplateID: "rt_1",
		ScheduledDate: date(2026, 9, 15), Title: "A",
	}))
	require.NoError(t, store.Create(&ScheduledJob{
		TenantID: "tn_1", RecurringTemplateID: "rt_1",
		ScheduledDate: date(2026, 9, 30), Title: "B",
	}))
	require.NoError(t, store.Create(&ScheduledJob{
		TenantID: "tn_1", RecurringTemplateID: "rt_1",
		ScheduledDate: date(2026, 8, 15), Title: "C",
	}))
	require.NoError(t, store.Create(&ScheduledJob{
		TenantID: "tn_1", ScheduledDate: date(2026, 9, 20), Title: "Manual",
	}))

	count, err := store.CountForTenantInMonth("tn_1", "2026-09")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "only template-generated September jobs count")
}
