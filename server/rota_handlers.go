package server

// Recurring-template and sweep handlers:
//
//	GET    /api/rota/templates       - list templates (?tenant_id= scopes, otherwise active only)
//	POST   /api/rota/templates       - create a template
//	GET    /api/rota/templates/{id}  - get a template
//	PATCH  /api/rota/templates/{id}  - update cadence, payload, or active state
//	DELETE /api/rota/templates/{id}  - deactivate a template
//	GET    /api/rota/templates/{id}/jobs - jobs generated from a template
//	POST   /api/rota/generate        - trigger a generation sweep
//	GET    /api/rota/runs            - sweep run history

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/jobs"
	"github.com/crewline/crewline/rota/recur"
)

// CreateTemplateRequest is the payload for creating a recurring template.
// Dates use the YYYY-MM-DD calendar format.
type CreateTemplateRequest struct {
	TenantID         string  `json:"tenant_id"`
	Pattern          string  `json:"pattern"`
	Interval         int     `json:"interval"`
	AnchorDay        int     `json:"anchor_day"`
	AdvanceDays      int     `json:"advance_days"`
	EndDate          *string `json:"end_date,omitempty"`
	IsActive         *bool   `json:"is_active,omitempty"` // default true
	NextOccurrence   string  `json:"next_occurrence"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	ClientID         string  `json:"client_id,omitempty"`
	EquipmentID      string  `json:"equipment_id,omitempty"`
	AssigneeID       string  `json:"assignee_id,omitempty"`
	AutoAssign       bool    `json:"auto_assign,omitempty"`
	JobType          string  `json:"job_type,omitempty"`
	Priority         string  `json:"priority,omitempty"`
	EstimatedMinutes int     `json:"estimated_minutes,omitempty"`
	Address          string  `json:"address,omitempty"`
	Notes            string  `json:"notes,omitempty"`
}

// UpdateTemplateRequest carries partial template updates. Nil fields are
// left untouched; an empty end_date string clears the end date.
type UpdateTemplateRequest struct {
	Pattern          *string `json:"pattern,omitempty"`
	Interval         *int    `json:"interval,omitempty"`
	AnchorDay        *int    `json:"anchor_day,omitempty"`
	AdvanceDays      *int    `json:"advance_days,omitempty"`
	EndDate          *string `json:"end_date,omitempty"`
	IsActive         *bool   `json:"is_active,omitempty"`
	NextOccurrence   *string `json:"next_occurrence,omitempty"`
	Title            *string `json:"title,omitempty"`
	Description      *string `json:"description,omitempty"`
	ClientID         *string `json:"client_id,omitempty"`
	EquipmentID      *string `json:"equipment_id,omitempty"`
	AssigneeID       *string `json:"assignee_id,omitempty"`
	AutoAssign       *bool   `json:"auto_assign,omitempty"`
	JobType          *string `json:"job_type,omitempty"`
	Priority         *string `json:"priority,omitempty"`
	EstimatedMinutes *int    `json:"estimated_minutes,omitempty"`
	Address          *string `json:"address,omitempty"`
	Notes            *string `json:"notes,omitempty"`
}

// parseDate parses a YYYY-MM-DD calendar date
func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", value)
}

// HandleTemplates handles requests to /api/rota/templates
// GET: List templates
// POST: Create a new template
func (s *Server) HandleTemplates(w http.ResponseWriter, r *http.Request) {
	endpoint := "unknown"
	switch r.Method {
	case http.MethodGet:
		endpoint = "list templates"
	case http.MethodPost:
		endpoint = "create template"
	}

	s.logger.Infow("Rota "+endpoint,
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr)

	switch r.Method {
	case http.MethodGet:
		s.handleListTemplates(w, r)
	case http.MethodPost:
		s.handleCreateTemplate(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleTemplate handles requests to /api/rota/templates/{id}
// GET: Get template details
// PATCH: Update template (cadence, payload, active state)
// DELETE: Deactivate template
func (s *Server) HandleTemplate(w http.ResponseWriter, r *http.Request) {
	// URL format: /api/rota/templates/{id} or /api/rota/templates/{id}/jobs
	pathParts := extractPathParts(r.URL.Path, "/api/rota/templates/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing template ID")
		return
	}
	templateID := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] == "jobs" {
		s.logger.Infow("Rota list template jobs", "template_id", shortID(templateID))
		s.handleTemplateJobs(w, r, templateID)
		return
	}

	endpoint := "unknown"
	switch r.Method {
	case http.MethodGet:
		endpoint = "get template"
	case http.MethodPatch:
		endpoint = "update template"
	case http.MethodDelete:
		endpoint = "deactivate template"
	}
	s.logger.Infow("Rota "+endpoint, "template_id", shortID(templateID), "method", r.Method)

	switch r.Method {
	case http.MethodGet:
		s.handleGetTemplate(w, r, templateID)
	case http.MethodPatch:
		s.handleUpdateTemplate(w, r, templateID)
	case http.MethodDelete:
		s.handleDeleteTemplate(w, r, templateID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleListTemplates lists templates. With ?tenant_id it returns that
// tenant's templates, active and inactive; without it, every active
// template across all tenants.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	var (
		templates []*recur.Template
		err       error
	)

	if tenantID := r.URL.Query().Get("tenant_id"); tenantID != "" {
		templates, err = s.templateStore.ListByTenant(tenantID)
	} else {
		templates, err = s.templateStore.ListActive()
	}
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list templates", http.StatusInternalServerError)
		return
	}

	if templates == nil {
		templates = []*recur.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": templates,
		"count":     len(templates),
	})
}

// handleCreateTemplate creates a recurring template
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWrappedError(w, s.logger, err, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.TenantID == "" {
		s.logger.Warnw("Rota create template - missing tenant_id")
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if req.NextOccurrence == "" {
		writeError(w, http.StatusBadRequest, "next_occurrence is required")
		return
	}
	next, err := parseDate(req.NextOccurrence)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid next_occurrence date: %v", err))
		return
	}

	var endDate *time.Time
	if req.EndDate != nil && *req.EndDate != "" {
		parsed, err := parseDate(*req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid end_date: %v", err))
			return
		}
		endDate = &parsed
	}

	// Suspended tenants cannot create templates regardless of the
	// requested active state.
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

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	if isActive {
		if err := s.tracker.CheckTemplateActivation(req.TenantID); err != nil {
			handleError(w, s.logger, err, "template activation refused")
			return
		}
	}

	tmpl := &recur.Template{
		ID:               recur.NewTemplateID(),
		TenantID:         req.TenantID,
		Pattern:          recur.Pattern(req.Pattern),
		Interval:         req.Interval,
		AnchorDay:        req.AnchorDay,
		AdvanceDays:      req.AdvanceDays,
		EndDate:          endDate,
		IsActive:         isActive,
		NextOccurrence:   next,
		Title:            req.Title,
		Description:      req.Description,
		ClientID:         req.ClientID,
		EquipmentID:      req.EquipmentID,
		AssigneeID:       req.AssigneeID,
		AutoAssign:       req.AutoAssign,
		JobType:          req.JobType,
		Priority:         req.Priority,
		EstimatedMinutes: req.EstimatedMinutes,
		Address:          req.Address,
		Notes:            req.Notes,
	}

	// The store fills interval and priority defaults and validates
	if err := s.templateStore.Create(tmpl); err != nil {
		handleError(w, s.logger, err, "failed to create template")
		return
	}

	s.logger.Infow("Created recurring template",
		"template_id", shortID(tmpl.ID),
		"tenant_id", tmpl.TenantID,
		"pattern", tmpl.Pattern,
		"next_occurrence", tmpl.NextOccurrence.Format("2006-01-02"))

	writeJSON(w, http.StatusCreated, tmpl)
}

// handleGetTemplate retrieves a specific template
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request, templateID string) {
	tmpl, err := s.templateStore.Get(templateID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get template")
		return
	}

	writeJSON(w, http.StatusOK, tmpl)
}

// handleUpdateTemplate applies partial updates to a template
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request, templateID string) {
	var req UpdateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWrappedError(w, s.logger, err, "invalid request body", http.StatusBadRequest)
		return
	}

	tmpl, err := s.templateStore.Get(templateID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get template")
		return
	}

	// Reactivation counts against the plan's active-template allowance
	if req.IsActive != nil && *req.IsActive && !tmpl.IsActive {
		if err := s.tracker.CheckTemplateActivation(tmpl.TenantID); err != nil {
			handleError(w, s.logger, err, "template activation refused")
			return
		}
	}

	if req.Pattern != nil {
		tmpl.Pattern = recur.Pattern(*req.Pattern)
	}
	if req.Interval != nil {
		tmpl.Interval = *req.Interval
	}
	if req.AnchorDay != nil {
		tmpl.AnchorDay = *req.AnchorDay
	}
	if req.AdvanceDays != nil {
		tmpl.AdvanceDays = *req.AdvanceDays
	}
	if req.EndDate != nil {
		if *req.EndDate == "" {
			tmpl.EndDate = nil
		} else {
			parsed, err := parseDate(*req.EndDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid end_date: %v", err))
				return
			}
			tmpl.EndDate = &parsed
		}
	}
	if req.IsActive != nil {
		tmpl.IsActive = *req.IsActive
	}
	if req.NextOccurrence != nil {
		parsed, err := parseDate(*req.NextOccurrence)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid next_occurrence date: %v", err))
			return
		}
		tmpl.NextOccurrence = parsed
	}
	if req.Title != nil {
		tmpl.Title = *req.Title
	}
	if req.Description != nil {
		tmpl.Description = *req.Description
	}
	if req.ClientID != nil {
		tmpl.ClientID = *req.ClientID
	}
	if req.EquipmentID != nil {
		tmpl.EquipmentID = *req.EquipmentID
	}
	if req.AssigneeID != nil {
		tmpl.AssigneeID = *req.AssigneeID
	}
	if req.AutoAssign != nil {
		tmpl.AutoAssign = *req.AutoAssign
	}
	if req.JobType != nil {
		tmpl.JobType = *req.JobType
	}
	if req.Priority != nil {
		tmpl.Priority = *req.Priority
	}
	if req.EstimatedMinutes != nil {
		tmpl.EstimatedMinutes = *req.EstimatedMinutes
	}
	if req.Address != nil {
		tmpl.Address = *req.Address
	}
	if req.Notes != nil {
		tmpl.Notes = *req.Notes
	}

	if err := s.templateStore.Update(tmpl); err != nil {
		handleError(w, s.logger, err, "failed to update template")
		return
	}

	s.logger.Infow("Updated recurring template",
		"template_id", shortID(tmpl.ID),
		"is_active", tmpl.IsActive)

	writeJSON(w, http.StatusOK, tmpl)
}

// handleDeleteTemplate deactivates a template. Templates are never hard
// deleted so generated jobs keep their provenance.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request, templateID string) {
	if err := s.templateStore.SetActive(templateID, false); err != nil {
		handleError(w, s.logger, err, "failed to deactivate template")
		return
	}

	s.logger.Infow("Deactivated recurring template", "template_id", shortID(templateID))

	w.WriteHeader(http.StatusNoContent) // 204 No Content
}

// handleTemplateJobs lists the jobs generated from a template, oldest first
func (s *Server) handleTemplateJobs(w http.ResponseWriter, r *http.Request, templateID string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	// 404 for unknown templates rather than an empty list
	if _, err := s.templateStore.Get(templateID); err != nil {
		handleError(w, s.logger, err, "failed to get template")
		return
	}

	generated, err := s.jobStore.ListForTemplate(templateID)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list template jobs", http.StatusInternalServerError)
		return
	}

	if generated == nil {
		generated = []*jobs.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  generated,
		"count": len(generated),
	})
}

// HandleGenerate triggers a generation sweep over all active templates.
// Subject to the same rate limit as WebSocket-triggered sweeps.
func (s *Server) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	s.logger.Infow("Rota generate sweep requested", "remote", r.RemoteAddr)

	if err := s.sweepLimiter.Allow(); err != nil {
		handleError(w, s.logger, err, "sweep refused")
		return
	}

	result, err := s.runner.SweepTriggered(r.Context(), recur.TriggerAPI)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to run generation sweep", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleRuns lists recent sweep runs, newest first
func (s *Server) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit: %s", raw))
			return
		}
		limit = parsed
	}

	runs, err := s.runStore.ListRecent(limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list sweep runs", http.StatusInternalServerError)
		return
	}

	if runs == nil {
		runs = []*recur.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}
