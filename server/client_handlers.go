package server

// Client, equipment, and tenant health handlers:
//
//	GET   /api/clients                 - list a tenant's clients
//	POST  /api/clients                 - create a client
//	POST  /api/clients/import          - bulk CSV import
//	GET   /api/clients/{id}            - get a client
//	PATCH /api/clients/{id}            - update contact fields
//	GET   /api/clients/{id}/equipment  - list a client's equipment
//	POST  /api/clients/{id}/equipment  - register equipment at a client site
//	GET   /api/tenants/{id}/health     - account health and plan usage

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crewline/crewline/clients"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/tenants"
)

// CreateClientRequest is the payload for creating a client
type CreateClientRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// UpdateClientRequest carries partial contact updates. Nil fields are
// left untouched.
type UpdateClientRequest struct {
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	Notes   *string `json:"notes,omitempty"`
}

// CreateEquipmentRequest is the payload for registering equipment at a
// client site
type CreateEquipmentRequest struct {
	Label        string `json:"label"`
	SerialNumber string `json:"serial_number,omitempty"`
	InstallDate  string `json:"install_date,omitempty"` // YYYY-MM-DD
}

// HandleClients handles requests to /api/clients
// GET: List a tenant's clients
// POST: Create a new client
func (s *Server) HandleClients(w http.ResponseWriter, r *http.Request) {
	endpoint := "unknown"
	switch r.Method {
	case http.MethodGet:
		endpoint = "list clients"
	case http.MethodPost:
		endpoint = "create client"
	}

	s.logger.Infow("Clients "+endpoint,
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr)

	switch r.Method {
	case http.MethodGet:
		s.handleListClients(w, r)
	case http.MethodPost:
		s.handleCreateClient(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleClient handles requests to /api/clients/{id}
// GET: Get client details
// PATCH: Update contact fields
// Sub-resource {id}/equipment: list and register equipment
func (s *Server) HandleClient(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/clients/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing client ID")
		return
	}
	clientID := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] == "equipment" {
		s.handleClientEquipment(w, r, clientID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetClient(w, r, clientID)
	case http.MethodPatch:
		s.handleUpdateClient(w, r, clientID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleListClients lists a tenant's clients ordered by name
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	list, err := s.clientStore.ListClients(tenantID)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list clients", http.StatusInternalServerError)
		return
	}

	if list == nil {
		list = []*clients.Client{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clients": list,
		"count":   len(list),
	})
}

// handleCreateClient creates a client
func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWrappedError(w, s.logger, err, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
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

	client := &clients.Client{
		TenantID: req.TenantID,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Address:  req.Address,
		Notes:    req.Notes,
	}

	if err := s.clientStore.CreateClient(client); err != nil {
		handleError(w, s.logger, err, "failed to create client")
		return
	}

	s.logger.Infow("Created client",
		"client_id", shortID(client.ID),
		"tenant_id", client.TenantID)

	writeJSON(w, http.StatusCreated, client)
}

// handleGetClient retrieves a specific client
func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request, clientID string) {
	client, err := s.clientStore.GetClient(clientID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get client")
		return
	}

	writeJSON(w, http.StatusOK, client)
}

// handleUpdateClient applies partial contact updates to a client
func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request, clientID string) {
	var req UpdateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWrappedError(w, s.logger, err, "invalid request body", http.StatusBadRequest)
		return
	}

	client, err := s.clientStore.GetClient(clientID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get client")
		return
	}

	if req.Name != nil {
		client.Name = *req.Name
	}
	if req.Email != nil {
		client.Email = *req.Email
	}
	if req.Phone != nil {
		client.Phone = *req.Phone
	}
	if req.Address != nil {
		client.Address = *req.Address
	}
	if req.Notes != nil {
		client.Notes = *req.Notes
	}

	if err := s.clientStore.UpdateClient(client); err != nil {
		handleError(w, s.logger, err, "failed to update client")
		return
	}

	s.logger.Infow("Updated client", "client_id", shortID(client.ID))

	writeJSON(w, http.StatusOK, client)
}

// handleClientEquipment lists or registers equipment at a client site
func (s *Server) handleClientEquipment(w http.ResponseWriter, r *http.Request, clientID string) {
	// Resolve the client first so equipment inherits its tenant
	client, err := s.clientStore.GetClient(clientID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get client")
		return
	}

	switch r.Method {
	case http.MethodGet:
		equipment, err := s.clientStore.ListEquipment(client.ID)
		if err != nil {
			writeWrappedError(w, s.logger, err, "failed to list equipment", http.StatusInternalServerError)
			return
		}
		if equipment == nil {
			equipment = []*clients.Equipment{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"equipment": equipment,
			"count":     len(equipment),
		})

	case http.MethodPost:
		var req CreateEquipmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeWrappedError(w, s.logger, err, "invalid request body", http.StatusBadRequest)
			return
		}

		var installDate *time.Time
		if req.InstallDate != "" {
			parsed, err := parseDate(req.InstallDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid install_date: %v", err))
				return
			}
			installDate = &parsed
		}

		equipment := &clients.Equipment{
			TenantID:     client.TenantID,
			ClientID:     client.ID,
			Label:        req.Label,
			SerialNumber: req.SerialNumber,
			InstallDate:  installDate,
		}

		if err := s.clientStore.CreateEquipment(equipment); err != nil {
			handleError(w, s.logger, err, "failed to create equipment")
			return
		}

		s.logger.Infow("Registered equipment",
			"equipment_id", shortID(equipment.ID),
			"client_id", shortID(client.ID))

		writeJSON(w, http.StatusCreated, equipment)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleClientImport bulk imports clients from a CSV request body.
// Duplicate contacts are skipped, malformed rows reported per line.
func (s *Server) HandleClientImport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	s.logger.Infow("Clients CSV import", "tenant_id", tenantID, "remote", r.RemoteAddr)

	tenant, err := s.tenantStore.Get(tenantID)
	if err != nil {
		handleError(w, s.logger, err, "failed to load tenant")
		return
	}
	if !tenant.IsActive {
		handleError(w, s.logger,
			errors.Wrapf(errors.ErrTenantInactive, "tenant %s", tenant.ID), "tenant is not active")
		return
	}

	result, err := s.importer.ImportCSV(tenantID, r.Body)
	if err != nil {
		handleError(w, s.logger, err, "CSV import failed")
		return
	}

	if err := s.queue.ImportCompleted(tenantID, map[string]int{
		"imported": result.Imported,
		"skipped":  result.Skipped,
	}); err != nil {
		s.logger.Warnw("Failed to enqueue import notification",
			"tenant_id", tenantID, "error", err)
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleTenant handles tenant sub-resources under /api/tenants/{id}/.
// Currently only the health report.
func (s *Server) HandleTenant(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/tenants/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing tenant ID")
		return
	}
	tenantID := pathParts[0]

	if len(pathParts) < 2 || pathParts[1] != "health" {
		writeError(w, http.StatusNotFound, "Unknown tenant resource")
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	now := time.Now().UTC()

	stats, err := s.tenantStore.GatherHealthStats(tenantID, now)
	if err != nil {
		handleError(w, s.logger, err, "failed to gather health stats")
		return
	}
	report := tenants.ScoreHealth(stats, now)

	usage, err := s.tracker.TenantSnapshot(tenantID, now)
	if err != nil {
		handleError(w, s.logger, err, "failed to read usage snapshot")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"health": report,
		"usage":  usage,
	})
}
