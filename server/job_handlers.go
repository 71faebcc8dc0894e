package server

// Scheduled job handlers:
//
//	GET   /api/jobs       - list a tenant's jobs with optional date bounds
//	POST  /api/jobs       - create a one-off job
//	GET   /api/jobs/{id}  - get a job
//	PATCH /api/jobs/{id}  - transition a job's status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/jobs"
)

// CreateJobRequest is the payload for creating a one-off job. One-off
// jobs have no template and are not counted against generation quotas.
type CreateJobRequest struct {
	TenantID         string `json:"tenant_id"`
	ScheduledDate    string `json:"scheduled_date"` // YYYY-MM-DD
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
	EquipmentID      string `json:"equipment_id,omitempty"`
	AssignedTo       string `json:"assigned_to,omitempty"`
	JobType          string `json:"job_type,omitempty"`
	Priority         string `json:"priority,omitempty"`
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`
	Address          string `json:"address,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// HandleJobs handles requests to /api/jobs
// GET: List a tenant's jobs
// POST: Create a one-off job
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	endpoint := "unknown"
	switch r.Method {
	case http.MethodGet:
		endpoint = "list jobs"
	case http.MethodPost:
		endpoint = "create job"
	}

	s.logger.Infow("Jobs "+endpoint,
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr)

	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleCreateJob(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleJob handles requests to /api/jobs/{id}
// GET: Get job details
// PATCH: Update job status
func (s *Server) HandleJob(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/jobs/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}
	jobID := pathParts[0]

	switch r.Method {
	case http.MethodGet:
		s.handleGetJob(w, r, jobID)
	case http.MethodPatch:
		s.handleUpdateJobStatus(w, r, jobID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleListJobs lists a tenant's jobs. from and to bound scheduled_date
// inclusively when given.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	tenantID := query.Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	var from, to *time.Time
	if raw := query.Get("from"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid from date: %v", err))
			return
		}
		from = &parsed
	}
	if raw := query.Get("to"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid to date: %v", err))
			return
		}
		to = &parsed
	}

	list, err := s.jobStore.ListByTenant(tenantID, from, to)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	if list == nil {
		list = []*jobs.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// handleCreateJob creates a one-off job
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWrappedError(w, s.logger, err, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if req.ScheduledDate == "" {
		writeError(w, http.StatusBadRequest, "scheduled_date is required")
		return
	}
	scheduledDate, err := parseDate(req.ScheduledDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid scheduled_date: %v", err))
		return
	}
	switch req.Priority {
	case "", jobs.PriorityLow, jobs.PriorityMedium, jobs.PriorityHigh, jobs.PriorityUrgent:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid priority: %s", req.Priority))
		return
	}

	tenant, err := s.tenantStore.Get(req.TenantID)
	if err != nil {
		handleError(w, s.logger, err, "failed to load tenant")
		return
	}
	if !tenant.IsActive {
		handleError(w, s.logger,
			errors.Wrapf(errors.ErrTenantInactive, "tenant %s", tenant.ID), "tenant is not active")
		return
	}

	job := &jobs.ScheduledJob{
		TenantID:         req.TenantID,
		ScheduledDate:    scheduledDate,
		Title:            req.Title,
		Description:      req.Description,
		ClientID:         req.ClientID,
		EquipmentID:      req.EquipmentID,
		AssignedTo:       req.AssignedTo,
		JobType:          req.JobType,
		Priority:         req.Priority,
		EstimatedMinutes: req.EstimatedMinutes,
		Address:          req.Address,
		Notes:            req.Notes,
	}

	if err := s.jobStore.Create(job); err != nil {
		handleError(w, s.logger, err, "failed to create job")
		return
	}

	// One-off jobs flow through the same webhook stream as generated ones
	if err := s.queue.JobCreated(job); err != nil {
		s.logger.Warnw("Failed to enqueue job notification",
			"job_id", shortID(job.ID), "error", err)
	}

	s.logger.Infow("Created one-off job",
		"job_id", shortID(job.ID),
		"tenant_id", job.TenantID,
		"scheduled_date", job.ScheduledDate.Format("2006-01-02"))

	writeJSON(w, http.StatusCreated, job)
}

// handleGetJob retrieves a specific job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.jobStore.Get(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleUpdateJobStatus transitions a job's status
func (s *Server) handleUpdateJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWrappedError(w, s.logger, err, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	// The store validates the status value and reports unknown jobs
	if err := s.jobStore.UpdateStatus(jobID, req.Status); err != nil {
		handleError(w, s.logger, err, "failed to update job status")
		return
	}

	s.logger.Infow("Updated job status", "job_id", shortID(jobID), "status", req.Status)

	job, err := s.jobStore.Get(jobID)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get updated job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, job)
}
