package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/jobs"
	"github.com/crewline/crewline/rota/quota"
	"github.com/crewline/crewline/tenants"
)

func seedJob(t *testing.T, s *Server, tenantID string, scheduled time.Time) *jobs.ScheduledJob {
	t.Helper()
	job := &jobs.ScheduledJob{
		TenantID:      tenantID,
		ScheduledDate: scheduled,
		Title:         "Sprinkler head replacement",
	}
	require.NoError(t, s.jobStore.Create(job))
	return job
}

func TestCreateOneOffJob(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)

	body := strings.NewReader(`{
		"tenant_id": "tn_1",
		"scheduled_date": "2026-09-01",
		"title": "Emergency call-out",
		"priority": "high"
	}`)
	w := httptest.NewRecorder()
	s.HandleJobs(w, httptest.NewRequest(http.MethodPost, "/api/jobs", body))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var job jobs.ScheduledJob
	decodeJSON(t, w, &job)
	assert.True(t, strings.HasPrefix(job.ID, "job_"))
	assert.Equal(t, jobs.StatusScheduled, job.Status)
	assert.Equal(t, jobs.PriorityHigh, job.Priority)
	assert.Empty(t, job.RecurringTemplateID)

	// The webhook stream hears about one-off jobs too
	counts, err := s.queue.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["queued"])

	// One-off jobs do not count against the generation quota
	used, err := s.tracker.Usage("tn_1", quota.Period(time.Now().UTC()), quota.CounterJobsGenerated)
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestCreateJobValidation(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)

	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing tenant",
			body: `{"scheduled_date": "2026-09-01", "title": "x"}`,
			want: "tenant_id is required",
		},
		{
			name: "missing scheduled date",
			body: `{"tenant_id": "tn_1", "title": "x"}`,
			want: "scheduled_date is required",
		},
		{
			name: "malformed scheduled date",
			body: `{"tenant_id": "tn_1", "scheduled_date": "next tuesday", "title": "x"}`,
			want: "Invalid scheduled_date",
		},
		{
			name: "unknown priority",
			body: `{"tenant_id": "tn_1", "scheduled_date": "2026-09-01", "title": "x", "priority": "whenever"}`,
			want: "Invalid priority: whenever",
		},
		{
			name: "missing title",
			body: `{"tenant_id": "tn_1", "scheduled_date": "2026-09-01"}`,
			want: "title is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.HandleJobs(w, httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(tc.body)))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.want)
		})
	}
}

func TestCreateJobTenantGates(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_idle", tenants.TierPro, false)

	body := `{"tenant_id": "%s", "scheduled_date": "2026-09-01", "title": "x"}`

	w := httptest.NewRecorder()
	s.HandleJobs(w, httptest.NewRequest(http.MethodPost, "/api/jobs",
		strings.NewReader(strings.Replace(body, "%s", "tn_idle", 1))))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	s.HandleJobs(w, httptest.NewRequest(http.MethodPost, "/api/jobs",
		strings.NewReader(strings.Replace(body, "%s", "tn_ghost", 1))))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)
	seedTenant(t, s, "tn_2", tenants.TierPro, true)
	seedJob(t, s, "tn_1", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	seedJob(t, s, "tn_1", time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC))
	seedJob(t, s, "tn_2", time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC))

	w := httptest.NewRecorder()
	s.HandleJobs(w, httptest.NewRequest(http.MethodGet, "/api/jobs?tenant_id=tn_1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Jobs  []*jobs.ScheduledJob `json:"jobs"`
		Count int                  `json:"count"`
	}
	decodeJSON(t, w, &body)
	assert.Equal(t, 2, body.Count)

	// Date window bounds scheduled_date inclusively
	w = httptest.NewRecorder()
	s.HandleJobs(w, httptest.NewRequest(http.MethodGet,
		"/api/jobs?tenant_id=tn_1&from=2026-09-01&to=2026-09-10", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var windowed struct {
		Jobs  []*jobs.ScheduledJob `json:"jobs"`
		Count int                  `json:"count"`
	}
	decodeJSON(t, w, &windowed)
	assert.Equal(t, 1, windowed.Count)
}

func TestListJobsValidation(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.HandleJobs(w, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_id is required")

	w = httptest.NewRecorder()
	s.HandleJobs(w, httptest.NewRequest(http.MethodGet, "/api/jobs?tenant_id=tn_1&from=soon", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid from date")
}

func TestUpdateJobStatus(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)
	job := seedJob(t, s, "tn_1", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))

	w := httptest.NewRecorder()
	s.HandleJob(w, httptest.NewRequest(http.MethodPatch, "/api/jobs/"+job.ID,
		strings.NewReader(`{"status": "in_progress"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated jobs.ScheduledJob
	decodeJSON(t, w, &updated)
	assert.Equal(t, jobs.StatusInProgress, updated.Status)

	w = httptest.NewRecorder()
	s.HandleJob(w, httptest.NewRequest(http.MethodPatch, "/api/jobs/"+job.ID,
		strings.NewReader(`{"status": "paused"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	s.HandleJob(w, httptest.NewRequest(http.MethodPatch, "/api/jobs/"+job.ID,
		strings.NewReader(`{"status": ""}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "status is required")

	w = httptest.NewRecorder()
	s.HandleJob(w, httptest.NewRequest(http.MethodPatch, "/api/jobs/job_ghost",
		strings.NewReader(`{"status": "completed"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)
	job := seedJob(t, s, "tn_1", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))

	w := httptest.NewRecorder()
	s.HandleJob(w, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got jobs.ScheduledJob
	decodeJSON(t, w, &got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "Sprinkler head replacement", got.Title)

	w = httptest.NewRecorder()
	s.HandleJob(w, httptest.NewRequest(http.MethodGet, "/api/jobs/job_ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	s.HandleJob(w, httptest.NewRequest(http.MethodGet, "/api/jobs/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Missing job ID")
}
