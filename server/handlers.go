package server

// Core HTTP and WebSocket handlers:
//
//	GET   /ws          - WebSocket upgrade for live event streams
//	GET   /health      - liveness probe with build info
//	GET   /api/status  - engine metrics for dashboards and the CLI
//	GET   /api/config  - current runtime configuration
//	POST  /api/config  - apply config key updates
//	PATCH /api/config  - same as POST
//
// Domain resource handlers (templates, jobs, clients, tenants) live in
// their own files.

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/version"
)

// HandleWebSocket upgrades the connection and registers a client with the hub
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan interface{}, MaxClientMessageQueueSize),
		id:     fmt.Sprintf("%s_%d", r.RemoteAddr, time.Now().UnixNano()),
	}

	// Write version info directly before the pumps start to avoid
	// concurrent writes on the connection.
	versionInfo := version.Get()
	if err := conn.WriteJSON(map[string]interface{}{
		"type":       "version",
		"version":    versionInfo.Version,
		"commit":     versionInfo.Short(),
		"build_time": versionInfo.BuildTime,
	}); err != nil {
		s.logger.Debugw("Failed to send version info", "client_id", client.id, "error", err)
	}

	s.register <- client

	// The hub queues the initial engine status during registration, so the
	// pumps can start immediately.
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// HandleHealth reports liveness, build info, and the connected client count
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()

	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    versionInfo.Version,
		"commit":     version.CommitHash,
		"build_time": versionInfo.BuildTime,
		"clients":    clientCount,
	})
}

// HandleStatus reports engine state: scheduler, delivery pool, and limits
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()

	current, max := s.sweepLimiter.Stats()

	status := map[string]interface{}{
		"server_state": stateString(s.getState()),
		"clients":      clientCount,
		"ticker": map[string]interface{}{
			"running": s.tickerStarted,
			"stats":   s.ticker.GetStats(),
		},
		"sweep_limiter": map[string]interface{}{
			"current":        current,
			"max_per_minute": max,
		},
	}

	if run, err := s.runStore.Latest(); err == nil {
		status["last_sweep"] = run
	} else if !errors.IsNotFound(err) {
		s.logger.Warnw("Failed to load latest sweep run", "error", err)
	}

	if s.pool != nil {
		status["outbox"] = s.pool.Stats()
		status["system"] = s.pool.GetSystemMetrics()
	} else if counts, err := s.queue.Counts(); err == nil {
		// Inline delivery mode has no pool, report queue depths only
		status["outbox"] = map[string]interface{}{
			"workers": 0,
			"queue":   counts,
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// HandleConfig serves and updates runtime configuration
func (s *Server) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet, http.MethodPost, http.MethodPatch) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetConfig(w, r)
	default:
		s.handleUpdateConfig(w, r)
	}
}

// handleGetConfig returns the effective configuration. The webhook signing
// secret is deliberately absent, it never leaves the process.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	port := config.DefaultServerPort
	if s.cfg.Server.Port != nil && *s.cfg.Server.Port != 0 {
		port = *s.cfg.Server.Port
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"config_file": config.GetViper().ConfigFileUsed(),
		"database": map[string]interface{}{
			"path": s.cfg.GetDatabasePath(),
		},
		"server": map[string]interface{}{
			"port":            port,
			"allowed_origins": s.cfg.GetServerAllowedOrigins(),
			"log_theme":       s.cfg.GetServerLogTheme(),
		},
		"rota": map[string]interface{}{
			"ticker_interval_seconds":  s.cfg.Rota.TickerIntervalSeconds,
			"sweep_on_startup":         s.cfg.Rota.SweepOnStartup,
			"manual_sweeps_per_minute": s.cfg.Rota.ManualSweepsPerMinute,
		},
		"outbox": map[string]interface{}{
			"workers":                 s.cfg.Outbox.Workers,
			"deliveries_per_second":   s.cfg.Outbox.DeliveriesPerSecond,
			"delivery_burst":          s.cfg.Outbox.DeliveryBurst,
			"max_attempts":            s.cfg.Outbox.MaxAttempts,
			"webhook_timeout_seconds": s.cfg.Outbox.WebhookTimeoutSeconds,
		},
		"plans": s.cfg.Plans,
	})
}

// configUpdateEntry describes a config key that can be changed over REST
type configUpdateEntry struct {
	typ      string // "int", "string"
	updateFn interface{}
}

// configUpdateRegistry maps updatable keys to their persistence functions.
// Updates land in the UI config file and flow back through the watcher.
var configUpdateRegistry = map[string]configUpdateEntry{
	"rota.ticker_interval_seconds": {typ: "int", updateFn: config.UpdateTickerInterval},
	"outbox.workers":               {typ: "int", updateFn: config.UpdateOutboxWorkers},
	"server.log_theme":             {typ: "string", updateFn: config.UpdateServerLogTheme},
}

// applyConfigKeyUpdate validates and persists a single key change. Returns
// false when a response has already been written.
func applyConfigKeyUpdate(w http.ResponseWriter, logger *zap.SugaredLogger, key string, value interface{}, clientAddr string) bool {
	entry, ok := configUpdateRegistry[key]
	if !ok {
		logger.Warnw("Unsupported config key in update request", "key", key, "client", clientAddr)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported config key: %s", key))
		return false
	}

	switch entry.typ {
	case "int":
		// JSON numbers decode as float64
		v, ok := value.(float64)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid value type for %s: expected int", key))
			return false
		}
		if err := entry.updateFn.(func(int) error)(int(v)); err != nil {
			writeWrappedError(w, logger, err, fmt.Sprintf("failed to update %s", key), http.StatusInternalServerError)
			return false
		}
	case "string":
		v, ok := value.(string)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid value type for %s: expected string", key))
			return false
		}
		if err := entry.updateFn.(func(string) error)(v); err != nil {
			writeWrappedError(w, logger, err, fmt.Sprintf("failed to update %s", key), http.StatusInternalServerError)
			return false
		}
	}

	logger.Infow("Config updated via REST API", "key", key, "value", value, "client", clientAddr)
	return true
}

// handleUpdateConfig applies one or more config key updates, then echoes the
// resulting configuration
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates map[string]interface{} `json:"updates"`
	}
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if len(req.Updates) == 0 {
		writeError(w, http.StatusBadRequest, "No updates provided")
		return
	}

	for key, value := range req.Updates {
		if !applyConfigKeyUpdate(w, s.logger, key, value, r.RemoteAddr) {
			return
		}
	}

	s.handleGetConfig(w, r)
}
