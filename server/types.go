package server

import (
	"time"

	"github.com/crewline/crewline/jobs"
	"github.com/crewline/crewline/rota/outbox"
	"github.com/crewline/crewline/rota/recur"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout is how long to wait for graceful shutdown
	// Covers WorkerPool.Stop (bounded by its own stop timeout) plus the
	// WebSocket pumps and config watcher winding down
	ShutdownTimeout = 30 * time.Second
)

// EngineState represents the activity level of the engine for adaptive polling
type EngineState int

const (
	EngineIdle   EngineState = iota // No deliveries pending, ticker between sweeps
	EngineActive                    // Notifications queued or being delivered
	EngineBusy                      // High worker load (>60%)
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// cachedEngineStatus tracks the last broadcast status to detect changes
type cachedEngineStatus struct {
	queued        int
	delivering    int
	loadPercent   float64
	lastGenerated int
}

// IncomingMessage represents a client message
type IncomingMessage struct {
	Type     string `json:"type"`      // "ping", "trigger_sweep"
	TenantID string `json:"tenant_id"` // Reserved for tenant-scoped requests
}

// SweepStartedMessage announces that a generation sweep began
type SweepStartedMessage struct {
	Type        string `json:"type"`         // "sweep_started"
	TriggeredBy string `json:"triggered_by"` // "ticker", "api", "manual", "cli"
	Timestamp   int64  `json:"timestamp"`    // Unix timestamp
}

// SweepCompletedMessage carries the result of a finished sweep
type SweepCompletedMessage struct {
	Type      string             `json:"type"`      // "sweep_completed"
	Result    *recur.SweepResult `json:"result"`    // Generated count, templates processed, errors
	Timestamp int64              `json:"timestamp"` // Unix timestamp
}

// JobGeneratedMessage announces a single job created during a sweep
type JobGeneratedMessage struct {
	Type      string             `json:"type"`      // "job_generated"
	Job       *jobs.ScheduledJob `json:"job"`       // The newly created job
	Timestamp int64              `json:"timestamp"` // Unix timestamp
}

// NotificationUpdateMessage mirrors outbox delivery activity
type NotificationUpdateMessage struct {
	Type         string               `json:"type"`         // "notification_update"
	Notification *outbox.Notification `json:"notification"` // Current row state
	Timestamp    int64                `json:"timestamp"`    // Unix timestamp
}

// DaemonStatusMessage represents engine status update
type DaemonStatusMessage struct {
	Type               string  `json:"type"`                 // "daemon_status"
	Running            bool    `json:"running"`              // Is the outbox pool running
	QueuedDeliveries   int     `json:"queued_deliveries"`    // Notifications waiting for a worker
	ActiveDeliveries   int     `json:"active_deliveries"`    // Notifications currently delivering
	LoadPercent        float64 `json:"load_percent"`         // Worker utilization (0-100)
	TickerRunning      bool    `json:"ticker_running"`       // Is the sweep ticker running
	LastSweepGenerated int     `json:"last_sweep_generated"` // Jobs created by the most recent sweep
	ServerState        string  `json:"server_state"`         // "running", "draining", "stopped"
	Timestamp          int64   `json:"timestamp"`            // Unix timestamp
}

// ErrorMessage reports a request failure back over the socket
type ErrorMessage struct {
	Type      string `json:"type"`      // "error"
	Error     string `json:"error"`     // Error description
	Timestamp int64  `json:"timestamp"` // Unix timestamp
}
