package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crewline/crewline/rota/recur"
)

// WebSocket timeout constants.
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer (control messages are small)
	maxMessageSize = 64 * 1024
)

// Client represents a WebSocket client connection
type Client struct {
	server    *Server
	conn      *websocket.Conn
	send      chan interface{}
	id        string
	closeOnce sync.Once // send is closed at most once
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		// The hub stops consuming unregister once its context ends, so a
		// plain send here could hang a pump forever during shutdown.
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.server.logger.Debugw("Read pump started", "client_id", c.id)

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.server.logger.Warnw("JSON unmarshal error",
				"error", err.Error(),
				"client_id", c.id,
			)
			continue
		}

		c.routeMessage(&msg)
	}
}

// handleReadError logs unexpected WebSocket read errors.
// Expected closure codes (going away, abnormal, no status) are silently ignored.
func (c *Client) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		c.server.logger.Warnw("WebSocket read error",
			"error", err.Error(),
			"client_id", c.id,
		)
	}
}

// routeMessage dispatches incoming WebSocket messages to appropriate handlers
func (c *Client) routeMessage(msg *IncomingMessage) {
	switch msg.Type {
	case "trigger_sweep":
		c.handleTriggerSweep()
	case "ping":
		// Just update deadline, handled by pong handler
	default:
		c.server.logger.Debugw("Unknown message type",
			"type", msg.Type,
			"client_id", c.id,
		)
	}
}

// handleTriggerSweep runs a generation sweep requested over the socket.
// The rate limiter is shared with the REST trigger endpoint.
func (c *Client) handleTriggerSweep() {
	c.server.logger.Infow("Manual sweep requested",
		"client_id", c.id,
	)

	if err := c.server.sweepLimiter.Allow(); err != nil {
		c.sendJSON(ErrorMessage{
			Type:      "error",
			Error:     err.Error(),
			Timestamp: time.Now().Unix(),
		})
		return
	}

	// Run in a goroutine so a long sweep doesn't block the read pump.
	// Results reach every client through the sweep broadcaster.
	c.server.wg.Add(1)
	go func() {
		defer c.server.wg.Done()

		if _, err := c.server.runner.SweepTriggered(c.server.ctx, recur.TriggerManual); err != nil {
			c.server.logger.Errorw("Manual sweep failed",
				"error", err,
				"client_id", c.id,
			)

			// Report back through the broadcast worker: this goroutine may
			// outlive the client, so it must not touch the channel directly.
			req := &broadcastRequest{
				reqType: "message",
				msg: ErrorMessage{
					Type:      "error",
					Error:     err.Error(),
					Timestamp: time.Now().Unix(),
				},
				clientID: c.id,
			}
			select {
			case c.server.broadcastReq <- req:
			case <-c.server.ctx.Done():
			default:
			}
		}
	}()
}

// writePump writes queued messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	c.server.logger.Debugw("Write pump started", "client_id", c.id)

	for {
		select {
		case <-c.server.ctx.Done():
			c.server.logger.Debugw("Write pump stopping due to server shutdown", "client_id", c.id)
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Warnw("Message write error",
					"error", err.Error(),
					"client_id", c.id,
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON is a helper to send JSON messages to the client
func (c *Client) sendJSON(data interface{}) {
	select {
	case c.send <- data:
		// Message queued successfully
	default:
		c.server.logger.Warnw("Failed to queue message (channel full)",
			"client_id", c.id,
		)
	}
}

// close safely closes the client's channel using sync.Once to prevent double-close panics
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.send != nil {
			close(c.send)
		}
	})
}
