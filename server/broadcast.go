package server

// This file contains broadcasting functionality for the Server. It
// handles real-time updates to WebSocket clients for:
// - Sweep lifecycle (started, completed, per-job generation)
// - Notification delivery activity (outbox queue updates)
// - Engine status (worker pool load, ticker state)

import (
	"time"

	"github.com/crewline/crewline/jobs"
	"github.com/crewline/crewline/rota/outbox"
	"github.com/crewline/crewline/rota/recur"
)

// broadcastMessage sends a message to all connected clients.
// Returns the number of clients that accepted the message (channel not full).
func (s *Server) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		select {
		case client.send <- msg:
			sent++
		default:
			// Channel full - skip
			s.broadcastDrops.Add(1)
		}
	}
	return sent
}

// BroadcastSweepStarted notifies clients that a generation sweep began
func (s *Server) BroadcastSweepStarted(triggeredBy string) {
	msg := SweepStartedMessage{
		Type:        "sweep_started",
		TriggeredBy: triggeredBy,
		Timestamp:   time.Now().Unix(),
	}

	sent := s.broadcastMessage(msg)
	s.logger.Debugw("Broadcasted sweep started",
		"triggered_by", triggeredBy,
		"clients", sent,
	)
}

// BroadcastSweepCompleted notifies clients of a finished sweep and its result
func (s *Server) BroadcastSweepCompleted(result *recur.SweepResult) {
	msg := SweepCompletedMessage{
		Type:      "sweep_completed",
		Result:    result,
		Timestamp: time.Now().Unix(),
	}

	sent := s.broadcastMessage(msg)
	s.logger.Debugw("Broadcasted sweep completed",
		"generated", result.Generated,
		"templates_processed", result.TemplatesProcessed,
		"error_count", len(result.Errors),
		"clients", sent,
	)
}

// BroadcastJobGenerated notifies clients of a single job created during a sweep
func (s *Server) BroadcastJobGenerated(job *jobs.ScheduledJob) {
	msg := JobGeneratedMessage{
		Type:      "job_generated",
		Job:       job,
		Timestamp: time.Now().Unix(),
	}

	sent := s.broadcastMessage(msg)
	s.logger.Debugw("Broadcasted job generated",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"clients", sent,
	)
}

// startNotificationBroadcaster subscribes to outbox queue updates and
// mirrors them to WebSocket clients
func (s *Server) startNotificationBroadcaster() {
	notifChan := s.queue.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			// Unsubscribe first (removes from list), then close
			// Order matters: closing while still subscribed could panic on send
			s.queue.Unsubscribe(notifChan)
			close(notifChan)
		}()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debugw("Notification broadcaster stopping due to context cancellation")
				return
			case n := <-notifChan:
				s.broadcastNotificationUpdate(n)
			}
		}
	}()

	s.logger.Infow("Notification broadcaster started")
}

// startEngineStatusBroadcaster periodically broadcasts engine status to WebSocket clients
// Uses adaptive polling: fast updates when busy, slow updates when idle
func (s *Server) startEngineStatusBroadcaster() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Start with idle state
		currentState := EngineIdle
		interval := s.getIntervalForActivityState(currentState)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debugw("Engine status broadcaster stopping due to context cancellation")
				return
			case <-ticker.C:
				// Only send updates if there are connected clients
				s.mu.RLock()
				hasClients := len(s.clients) > 0
				s.mu.RUnlock()

				if !hasClients {
					continue
				}

				// Detect new engine activity state
				newState := s.detectEngineActivityState()

				// Adjust polling interval if state changed
				if newState != currentState {
					currentState = newState
					interval = s.getIntervalForActivityState(currentState)
					ticker.Reset(interval)

					s.logger.Debugw("Engine activity state changed, adjusted poll interval",
						"state", currentState,
						"interval", interval,
					)
				}

				s.broadcastDaemonStatus()
			}
		}
	}()

	s.logger.Infow("Adaptive engine status broadcaster started")
}

// broadcastNotificationUpdate sends an outbox row update to all connected clients
func (s *Server) broadcastNotificationUpdate(n *outbox.Notification) {
	msg := NotificationUpdateMessage{
		Type:         "notification_update",
		Notification: n,
		Timestamp:    time.Now().Unix(),
	}

	sent := s.broadcastMessage(msg)

	s.logger.Debugw("Broadcasted notification update",
		"notification_id", n.ID,
		"status", n.Status,
		"clients", sent,
	)
}

// engineStatusSnapshot gathers the current engine status message.
// No change suppression; broadcast paths go through broadcastDaemonStatus.
func (s *Server) engineStatusSnapshot() DaemonStatusMessage {
	var queued, delivering int
	if counts, err := s.queue.Counts(); err == nil {
		queued = counts[string(outbox.StatusQueued)]
		delivering = counts[string(outbox.StatusDelivering)]
	}

	loadPercent := 0.0
	running := false
	if s.pool != nil {
		running = true
		if workers := s.pool.Workers(); workers > 0 {
			loadPercent = float64(delivering) / float64(workers) * 100
			if loadPercent > 100 {
				loadPercent = 100
			}
		}
	}

	lastGenerated := 0
	if run, err := s.runStore.Latest(); err == nil {
		lastGenerated = run.Generated
	}

	return DaemonStatusMessage{
		Type:               "daemon_status",
		Running:            running,
		QueuedDeliveries:   queued,
		ActiveDeliveries:   delivering,
		LoadPercent:        loadPercent,
		TickerRunning:      s.tickerStarted,
		LastSweepGenerated: lastGenerated,
		ServerState:        stateString(s.getState()),
		Timestamp:          time.Now().Unix(),
	}
}

// broadcastDaemonStatus sends engine status to all connected clients
func (s *Server) broadcastDaemonStatus() {
	msg := s.engineStatusSnapshot()

	// Check if status has changed meaningfully (with lock for lastStatus access)
	s.mu.Lock()
	if !s.statusHasChangedLocked(msg.QueuedDeliveries, msg.ActiveDeliveries, msg.LoadPercent, msg.LastSweepGenerated) {
		s.mu.Unlock()
		return // Skip broadcast if nothing changed
	}

	// Update cached status (still under lock)
	s.lastStatus = &cachedEngineStatus{
		queued:        msg.QueuedDeliveries,
		delivering:    msg.ActiveDeliveries,
		loadPercent:   msg.LoadPercent,
		lastGenerated: msg.LastSweepGenerated,
	}
	s.mu.Unlock()

	sent := s.broadcastMessage(msg)

	s.logger.Debugw("Broadcasted engine status",
		"running", msg.Running,
		"queued_deliveries", msg.QueuedDeliveries,
		"active_deliveries", msg.ActiveDeliveries,
		"load_percent", msg.LoadPercent,
		"clients", sent,
	)
}

// detectEngineActivityState determines the current engine activity level for adaptive polling
func (s *Server) detectEngineActivityState() EngineState {
	counts, err := s.queue.Counts()
	if err != nil {
		return EngineIdle
	}
	queued := counts[string(outbox.StatusQueued)]
	delivering := counts[string(outbox.StatusDelivering)]

	loadPercent := 0.0
	if s.pool != nil {
		if workers := s.pool.Workers(); workers > 0 {
			loadPercent = float64(delivering) / float64(workers) * 100
			if loadPercent > 100 {
				loadPercent = 100
			}
		}
	}

	// Busy: deep queue or high worker load
	if queued > 10 || loadPercent > 60 {
		return EngineBusy
	}

	// Active: any deliveries pending or in flight
	if queued > 0 || delivering > 0 {
		return EngineActive
	}

	// Idle: nothing happening
	return EngineIdle
}

// getIntervalForActivityState returns the polling interval for a given engine state
func (s *Server) getIntervalForActivityState(state EngineState) time.Duration {
	switch state {
	case EngineBusy:
		return 1 * time.Second // Fast: high activity
	case EngineActive:
		return 5 * time.Second // Medium: some activity
	case EngineIdle:
		return 30 * time.Second // Slow: nothing happening
	default:
		return 10 * time.Second
	}
}

// statusHasChangedLocked checks if the engine status has meaningfully changed since last broadcast.
// REQUIRES: s.mu must be held by caller.
func (s *Server) statusHasChangedLocked(queued, delivering int, loadPercent float64, lastGenerated int) bool {
	if s.lastStatus == nil {
		return true // First broadcast always sends
	}

	// Check for significant changes
	return s.lastStatus.queued != queued ||
		s.lastStatus.delivering != delivering ||
		absDiff(s.lastStatus.loadPercent, loadPercent) > 1.0 || // 1% tolerance
		s.lastStatus.lastGenerated != lastGenerated
}

// absDiff returns the absolute difference between two float64 values
func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
