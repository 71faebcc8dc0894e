package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/rota/recur"
)

// getState returns the current server state
func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// startBackgroundServices starts all background service goroutines
func (s *Server) startBackgroundServices() {
	// Start outbox delivery workers
	if s.pool != nil {
		s.pool.Start()
	}

	// Start the sweep ticker unless periodic sweeps are disabled
	if s.cfg.Rota.TickerIntervalSeconds > 0 {
		s.ticker.Start()
		s.tickerStarted = true
	} else {
		s.logger.Infow("Periodic sweeps disabled (rota.ticker_interval_seconds = 0)")
	}

	// Catch up on anything that came due while the daemon was down,
	// rather than waiting a full interval for the first tick
	if s.cfg.Rota.SweepOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.runner.SweepTriggered(s.ctx, recur.TriggerTicker); err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warnw("Startup sweep failed", "error", err)
				}
			}
		}()
	}

	// Start notification update broadcaster
	s.startNotificationBroadcaster()

	// Start adaptive engine status broadcaster
	s.startEngineStatusBroadcaster()
}

// Start starts the server on the specified port and blocks serving HTTP
func (s *Server) Start(port int) error {
	// Start the hub in a goroutine
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	// Start all background services
	s.startBackgroundServices()

	// Find an available port
	actualPort, err := findAvailablePort(port)
	if err != nil {
		return errors.Wrap(err, "failed to find available port")
	}

	if actualPort != port {
		s.logger.Infow("Port in use, using alternative",
			"requested_port", port,
			"actual_port", actualPort,
		)
	}

	// Set up HTTP routes
	s.setupHTTPRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", actualPort),
		Handler: s.mux,
	}

	s.logger.Infow("Server ready",
		"url", fmt.Sprintf("http://localhost:%d", actualPort),
		"port", actualPort,
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop gracefully shuts down the server and cleans up resources
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")

	// Transition to draining state
	s.setState(ServerStateDraining)

	// Stop the ticker first so no new sweep starts mid-shutdown
	if s.tickerStarted {
		s.ticker.Stop()
	}

	// Stop delivery workers; anything cut off mid-flight is requeued by
	// orphan recovery on the next start
	if s.pool != nil {
		s.logger.Infow("Stopping outbox workers")
		s.pool.Stop()
	}

	// Close all client connections BEFORE cancelling context
	// This ensures readPump/writePump exit cleanly before context cancellation
	s.mu.Lock()
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()

	if len(clientsToClose) > 0 {
		s.logger.Infow("Closing client connections", "count", len(clientsToClose))
		for _, client := range clientsToClose {
			client.conn.Close() // Close connection to unblock readPump
		}
	}

	// Cancel context to signal all server goroutines to stop
	if s.cancel != nil {
		s.cancel()
	}

	// Wait for goroutines with timeout
	// Goroutines should exit quickly now that:
	// 1. WebSocket connections are closed (unblocking readPump)
	// 2. Context is cancelled (stopping writePump and broadcasters)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out, forcing exit",
			"timeout", ShutdownTimeout,
		)
	}

	// Shut down the HTTP listener, unblocking Start
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("HTTP server shutdown error", "error", err)
		}
	}

	// Stop config watcher
	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("Failed to stop config watcher", "error", err)
		} else {
			s.logger.Infow("Config watcher stopped")
		}
	}

	// Mark shutdown complete
	s.setState(ServerStateStopped)

	s.logger.Infow("Server shutdown complete",
		"broadcast_drops", s.broadcastDrops.Load(),
	)

	return nil
}
