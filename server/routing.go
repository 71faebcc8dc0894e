package server

import (
	"net/http"
)

// setupHTTPRoutes configures all HTTP handlers
func (s *Server) setupHTTPRoutes() {
	s.mux = http.NewServeMux()

	s.mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket))                    // Live event feed (sweeps, notifications, engine status)
	s.mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))                   // Liveness with version info
	s.mux.HandleFunc("/api/status", s.corsMiddleware(s.HandleStatus))               // Engine/queue/worker/system metrics (GET)
	s.mux.HandleFunc("/api/config", s.corsMiddleware(s.HandleConfig))               // Live settings (GET/PATCH)
	s.mux.HandleFunc("/api/rota/generate", s.corsMiddleware(s.HandleGenerate))      // Trigger a generation sweep (POST)
	s.mux.HandleFunc("/api/rota/templates", s.corsMiddleware(s.HandleTemplates))    // List/create templates (GET/POST)
	s.mux.HandleFunc("/api/rota/templates/", s.corsMiddleware(s.HandleTemplate))    // Individual template (GET/PATCH/DELETE)
	s.mux.HandleFunc("/api/rota/runs", s.corsMiddleware(s.HandleRuns))              // Recent sweep history (GET)
	s.mux.HandleFunc("/api/jobs", s.corsMiddleware(s.HandleJobs))                   // List with tenant/date filters, create one-off jobs (GET/POST)
	s.mux.HandleFunc("/api/jobs/", s.corsMiddleware(s.HandleJob))                   // Individual job (GET/PATCH status)
	s.mux.HandleFunc("/api/clients", s.corsMiddleware(s.HandleClients))             // List/create clients (GET/POST)
	s.mux.HandleFunc("/api/clients/import", s.corsMiddleware(s.HandleClientImport)) // CSV import (POST)
	s.mux.HandleFunc("/api/clients/", s.corsMiddleware(s.HandleClient))             // Individual client and equipment (GET/PATCH, sub-resource)
	s.mux.HandleFunc("/api/tenants/", s.corsMiddleware(s.HandleTenant))             // Tenant sub-resources: health (GET)
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed origins
// Uses the same origin validation as WebSocket connections (server.allowed_origins config)
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// If origin is present and allowed by config, set CORS headers
		if origin != "" && checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
