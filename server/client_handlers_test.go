package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/clients"
	"github.com/crewline/crewline/rota/quota"
	"github.com/crewline/crewline/tenants"
)

func seedClient(t *testing.T, s *Server, tenantID, name string) *clients.Client {
	t.Helper()
	client := &clients.Client{
		TenantID: tenantID,
		Name:     name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
	}
	require.NoError(t, s.clientStore.CreateClient(client))
	return client
}

func TestCreateClient(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)

	body := strings.NewReader(`{
		"tenant_id": "tn_1",
		"name": "Hargrove Dental",
		"email": "frontdesk@hargrovedental.com",
		"phone": "555-201-7788"
	}`)
	w := httptest.NewRecorder()
	s.HandleClients(w, httptest.NewRequest(http.MethodPost, "/api/clients", body))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created clients.Client
	decodeJSON(t, w, &created)
	assert.True(t, strings.HasPrefix(created.ID, "cl_"))
	assert.Equal(t, "Hargrove Dental", created.Name)

	w = httptest.NewRecorder()
	s.HandleClient(w, httptest.NewRequest(http.MethodGet, "/api/clients/"+created.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got clients.Client
	decodeJSON(t, w, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "frontdesk@hargrovedental.com", got.Email)
}

func TestCreateClientValidation(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)
	seedTenant(t, s, "tn_idle", tenants.TierStarter, false)

	cases := []struct {
		name     string
		body     string
		wantCode int
		wantBody string
	}{
		{
			name:     "missing tenant",
			body:     `{"name": "x"}`,
			wantCode: http.StatusBadRequest,
			wantBody: "tenant_id is required",
		},
		{
			name:     "missing name",
			body:     `{"tenant_id": "tn_1"}`,
			wantCode: http.StatusBadRequest,
			wantBody: "client name is required",
		},
		{
			name:     "unknown tenant",
			body:     `{"tenant_id": "tn_ghost", "name": "x"}`,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "suspended tenant",
			body:     `{"tenant_id": "tn_idle", "name": "x"}`,
			wantCode: http.StatusForbidden,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.HandleClients(w, httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader(tc.body)))

			assert.Equal(t, tc.wantCode, w.Code)
			if tc.wantBody != "" {
				assert.Contains(t, w.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestListClients(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)
	seedTenant(t, s, "tn_2", tenants.TierPro, true)
	seedClient(t, s, "tn_1", "Hargrove Dental")
	seedClient(t, s, "tn_1", "Bay Area Lofts")
	seedClient(t, s, "tn_2", "Pinecrest HOA")

	w := httptest.NewRecorder()
	s.HandleClients(w, httptest.NewRequest(http.MethodGet, "/api/clients?tenant_id=tn_1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Clients []*clients.Client `json:"clients"`
		Count   int               `json:"count"`
	}
	decodeJSON(t, w, &body)
	assert.Equal(t, 2, body.Count)

	w = httptest.NewRecorder()
	s.HandleClients(w, httptest.NewRequest(http.MethodGet, "/api/clients", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_id is required")
}

func TestUpdateClient(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)
	client := seedClient(t, s, "tn_1", "Hargrove Dental")

	body := strings.NewReader(`{"name": "Hargrove Dental Group", "phone": "555-0100"}`)
	w := httptest.NewRecorder()
	s.HandleClient(w, httptest.NewRequest(http.MethodPatch, "/api/clients/"+client.ID, body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated clients.Client
	decodeJSON(t, w, &updated)
	assert.Equal(t, "Hargrove Dental Group", updated.Name)
	assert.Equal(t, "555-0100", updated.Phone)
	assert.Equal(t, client.Email, updated.Email, "untouched fields keep their values")
}

func TestClientEquipment(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)
	client := seedClient(t, s, "tn_1", "Hargrove Dental")

	body := strings.NewReader(`{
		"label": "Backflow valve",
		"serial_number": "BF-2291",
		"install_date": "2024-06-01"
	}`)
	w := httptest.NewRecorder()
	s.HandleClient(w, httptest.NewRequest(http.MethodPost, "/api/clients/"+client.ID+"/equipment", body))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var eq clients.Equipment
	decodeJSON(t, w, &eq)
	assert.True(t, strings.HasPrefix(eq.ID, "eq_"))
	assert.Equal(t, "tn_1", eq.TenantID, "equipment inherits the client's tenant")
	assert.Equal(t, client.ID, eq.ClientID)
	require.NotNil(t, eq.InstallDate)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), eq.InstallDate.UTC())

	w = httptest.NewRecorder()
	s.HandleClient(w, httptest.NewRequest(http.MethodGet, "/api/clients/"+client.ID+"/equipment", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Equipment []*clients.Equipment `json:"equipment"`
		Count     int                  `json:"count"`
	}
	decodeJSON(t, w, &listed)
	assert.Equal(t, 1, listed.Count)
}

func TestClientEquipmentValidation(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)
	client := seedClient(t, s, "tn_1", "Hargrove Dental")

	w := httptest.NewRecorder()
	s.HandleClient(w, httptest.NewRequest(http.MethodPost, "/api/clients/cl_ghost/equipment",
		strings.NewReader(`{"label": "Furnace"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	s.HandleClient(w, httptest.NewRequest(http.MethodPost, "/api/clients/"+client.ID+"/equipment",
		strings.NewReader(`{"serial_number": "BF-2291"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "equipment label is required")

	w = httptest.NewRecorder()
	s.HandleClient(w, httptest.NewRequest(http.MethodPost, "/api/clients/"+client.ID+"/equipment",
		strings.NewReader(`{"label": "Furnace", "install_date": "June 2024"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid install_date")
}

func TestImportClients(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)

	// Line 4 has no name; line 5 duplicates line 2's email after
	// normalization.
	csvBody := strings.Join([]string{
		"name,email,phone",
		"Hargrove Dental,frontdesk@hargrovedental.com,555-201-7788",
		"Bay Area Lofts,manager@bayarealofts.com,",
		",orphan@row.com,",
		"Hargrove Dental,FRONTDESK@hargrovedental.com,",
	}, "\n")

	w := httptest.NewRecorder()
	s.HandleClientImport(w, httptest.NewRequest(http.MethodPost,
		"/api/clients/import?tenant_id=tn_1", strings.NewReader(csvBody)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result clients.ImportResult
	decodeJSON(t, w, &result)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 4, result.Errors[0].Line)
	assert.Contains(t, result.Errors[0].Message, "missing name")

	// The import summary notification is queued for delivery
	counts, err := s.queue.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["queued"])
}

func TestImportClientsValidation(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_idle", tenants.TierPro, false)

	w := httptest.NewRecorder()
	s.HandleClientImport(w, httptest.NewRequest(http.MethodPost, "/api/clients/import",
		strings.NewReader("name\nx")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_id is required")

	w = httptest.NewRecorder()
	s.HandleClientImport(w, httptest.NewRequest(http.MethodPost,
		"/api/clients/import?tenant_id=tn_idle", strings.NewReader("name\nx")))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestImportClientsRequiresNameColumn(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)

	w := httptest.NewRecorder()
	s.HandleClientImport(w, httptest.NewRequest(http.MethodPost,
		"/api/clients/import?tenant_id=tn_1",
		strings.NewReader("email,phone\na@b.com,555-0100")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name column")
}

func TestTenantHealth(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)

	w := httptest.NewRecorder()
	s.HandleTenant(w, httptest.NewRequest(http.MethodGet, "/api/tenants/tn_1/health", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Health tenants.HealthReport `json:"health"`
		Usage  quota.Snapshot       `json:"usage"`
	}
	decodeJSON(t, w, &body)
	assert.Equal(t, tenants.BandAtRisk, body.Health.Band, "no activity scores at risk")
	assert.Zero(t, body.Health.Score)
	assert.Equal(t, tenants.TierPro, body.Usage.Tier)

	// A recent login plus an active template lifts the band to watch
	require.NoError(t, s.tenantStore.RecordLogin("tn_1", time.Now().UTC()))
	seedTemplate(t, s, "rt_health", "tn_1", time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC), true)

	w = httptest.NewRecorder()
	s.HandleTenant(w, httptest.NewRequest(http.MethodGet, "/api/tenants/tn_1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	decodeJSON(t, w, &body)
	assert.Equal(t, tenants.BandWatch, body.Health.Band)
	assert.Equal(t, 55, body.Health.Score)
}

func TestTenantHealthRouting(t *testing.T) {
	s := newTestServer(t)
	seedTenant(t, s, "tn_1", tenants.TierPro, true)

	w := httptest.NewRecorder()
	s.HandleTenant(w, httptest.NewRequest(http.MethodGet, "/api/tenants/tn_ghost/health", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	s.HandleTenant(w, httptest.NewRequest(http.MethodGet, "/api/tenants/tn_1/billing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Unknown tenant resource")

	w = httptest.NewRecorder()
	s.HandleTenant(w, httptest.NewRequest(http.MethodGet, "/api/tenants/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Missing tenant ID")

	w = httptest.NewRecorder()
	s.HandleTenant(w, httptest.NewRequest(http.MethodPost, "/api/tenants/tn_1/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
