package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/crewline/crewline/clients"
	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/jobs"
	"github.com/crewline/crewline/rota/outbox"
	"github.com/crewline/crewline/rota/quota"
	"github.com/crewline/crewline/rota/recur"
	"github.com/crewline/crewline/tenants"
)

// Server hosts the crewline HTTP API and the WebSocket event feed. It
// owns the rota engine pieces for the daemon process: the sweep ticker,
// the outbox worker pool, and the stores behind the REST handlers.
type Server struct {
	db     *sql.DB
	dbPath string // Database file path (for display in banner)
	cfg    *config.Config

	tenantStore   *tenants.Store
	clientStore   *clients.Store
	jobStore      *jobs.Store
	templateStore *recur.TemplateStore
	runStore      *recur.RunStore

	tracker       *quota.Tracker
	sweepLimiter  *quota.Limiter
	importer      *clients.Importer
	runner        *recur.Runner
	ticker        *recur.Ticker
	tickerStarted bool               // Set once in startBackgroundServices
	pool          *outbox.WorkerPool // nil when outbox.workers = 0
	queue         *outbox.Queue
	configWatcher *config.ConfigWatcher

	clients      map[*Client]bool
	broadcastReq chan *broadcastRequest // Requests to broadcast worker (thread-safe sends)
	register     chan *Client
	unregister   chan *Client
	mu           sync.RWMutex
	lastStatus   *cachedEngineStatus // Cache last engine status for change detection
	logger       *zap.SugaredLogger

	// HTTP server
	mux        *http.ServeMux
	httpServer *http.Server

	// Lifecycle management
	ctx            context.Context    // Cancellation context for graceful shutdown
	cancel         context.CancelFunc // Cancels all goroutines
	wg             sync.WaitGroup     // Tracks active goroutines for clean shutdown
	broadcastDrops atomic.Int64       // Tracks dropped broadcasts for monitoring
	state          atomic.Int32       // Server state (Running/Draining/Stopped)
}

// broadcastRequest asks the broadcast worker to act on a client channel.
// All targeted sends and all channel closes flow through the worker so
// channels have a single writer and a single closer.
type broadcastRequest struct {
	reqType  string      // "message", "close"
	msg      interface{} // For "message" requests
	client   *Client     // For "close" requests
	clientID string      // For "message": target a specific client
}

// handleClientRegister handles a new client connection
func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()

	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.close()
		return
	}

	s.clients[client] = true
	totalClients := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", totalClients,
	)

	// Send current engine status to the newly connected client so the UI
	// has something to render before the first periodic broadcast.
	req := &broadcastRequest{
		reqType:  "message",
		msg:      s.engineStatusSnapshot(),
		clientID: client.id, // Send to specific client only
	}

	select {
	case s.broadcastReq <- req:
		s.logger.Debugw("Queued initial status for client", "client_id", client.id)
	case <-s.ctx.Done():
		return
	default:
		s.logger.Warnw("Broadcast request queue full, skipping initial status", "client_id", client.id)
	}
}

// handleClientUnregister handles a client disconnection
func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		totalClients := len(s.clients)
		s.mu.Unlock()

		// Signal broadcast worker to close channels (thread-safe)
		req := &broadcastRequest{
			reqType: "close",
			client:  client,
		}
		select {
		case s.broadcastReq <- req:
			// Request queued
		case <-s.ctx.Done():
			// Server shutting down, close directly
			client.close()
		}

		s.logger.Infow("Client disconnected",
			"client_id", client.id,
			"total_clients", totalClients,
		)
	} else {
		s.mu.Unlock()
	}
}

// removeSlowClient safely removes a client that can't keep up with broadcasts.
// IMPORTANT: Only called from broadcast worker, so safe to close channels directly.
func (s *Server) removeSlowClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		s.mu.Unlock()
	} else {
		s.mu.Unlock()
		return // Already removed
	}

	// Close channels directly (we're in broadcast worker context, single-writer invariant maintained)
	client.close()

	s.logger.Warnw("Client send channel full, removing client",
		"client_id", client.id,
		"total_drops", s.broadcastDrops.Load(),
	)
}

// runBroadcastWorker processes targeted sends and channel closes. It is
// the only goroutine that closes client channels, which keeps close()
// from racing sends issued on this same goroutine.
func (s *Server) runBroadcastWorker() {
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Broadcast worker stopping due to context cancellation")
			return
		case req := <-s.broadcastReq:
			switch req.reqType {
			case "message":
				s.deliverToClient(req)
			case "close":
				req.client.close()
			default:
				s.logger.Warnw("Unknown broadcast request type", "req_type", req.reqType)
			}
		}
	}
}

// deliverToClient sends a targeted message to a single client by ID.
// A full channel means the client has stopped draining its queue, so it
// gets removed rather than blocking the worker.
func (s *Server) deliverToClient(req *broadcastRequest) {
	s.mu.RLock()
	var target *Client
	for client := range s.clients {
		if client.id == req.clientID {
			target = client
			break
		}
	}
	s.mu.RUnlock()

	if target == nil {
		return // Client disconnected before delivery
	}

	select {
	case target.send <- req.msg:
	default:
		s.broadcastDrops.Add(1)
		s.removeSlowClient(target)
	}
}

// Run starts the server hub event loop
func (s *Server) Run() {
	// Start dedicated broadcast worker (MUST start before processing any messages)
	// This worker owns all targeted client channel sends
	go s.runBroadcastWorker()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}

// Queue exposes the notification queue so the CLI and importer paths can
// enqueue through the same instance the broadcasters subscribe to.
func (s *Server) Queue() *outbox.Queue {
	return s.queue
}

// Runner exposes the sweep runner for CLI-triggered sweeps.
func (s *Server) Runner() *recur.Runner {
	return s.runner
}
