package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(s *Server, id string) *Client {
	return &Client{
		server: s,
		send:   make(chan interface{}, MaxClientMessageQueueSize),
		id:     id,
	}
}

func clientCount(s *Server) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func TestClientRegisterAndUnregister(t *testing.T) {
	s := newTestServer(t)
	go s.Run()

	client := testClient(s, "test_client_1")
	s.register <- client

	require.Eventually(t, func() bool {
		return clientCount(s) == 1
	}, time.Second, 10*time.Millisecond, "client should be registered")

	// Registration queues the current engine status for the new client
	select {
	case msg := <-client.send:
		status, ok := msg.(DaemonStatusMessage)
		require.True(t, ok, "expected DaemonStatusMessage, got %T", msg)
		assert.Equal(t, "daemon_status", status.Type)
		assert.False(t, status.Running, "no worker pool in test config")
		assert.False(t, status.TickerRunning)
	case <-time.After(time.Second):
		t.Fatal("initial status message not delivered")
	}

	s.unregister <- client

	require.Eventually(t, func() bool {
		return clientCount(s) == 0
	}, time.Second, 10*time.Millisecond, "client should be unregistered")

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-client.send:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "send channel should be closed")
}

func TestRegisterRejectsBeyondMaxClients(t *testing.T) {
	s := newTestServer(t)
	go s.Run()

	for i := 0; i < MaxClients; i++ {
		s.register <- testClient(s, fmt.Sprintf("bulk_client_%d", i))
	}

	require.Eventually(t, func() bool {
		return clientCount(s) == MaxClients
	}, 2*time.Second, 10*time.Millisecond)

	overflow := testClient(s, "overflow_client")
	s.register <- overflow

	// The rejected client's channel is closed instead of registered
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-overflow.send:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "overflow client should be closed")

	assert.Equal(t, MaxClients, clientCount(s))
}

func TestBroadcastMessageSkipsFullClients(t *testing.T) {
	s := newTestServer(t)

	healthy := testClient(s, "healthy")
	full := &Client{server: s, send: make(chan interface{}), id: "full"} // unbuffered, never drained

	s.mu.Lock()
	s.clients[healthy] = true
	s.clients[full] = true
	s.mu.Unlock()

	sent := s.broadcastMessage(ErrorMessage{Type: "error", Error: "boom"})

	assert.Equal(t, 1, sent)
	assert.Equal(t, int64(1), s.broadcastDrops.Load())

	select {
	case msg := <-healthy.send:
		errMsg, ok := msg.(ErrorMessage)
		require.True(t, ok)
		assert.Equal(t, "boom", errMsg.Error)
	default:
		t.Fatal("healthy client did not receive the broadcast")
	}

	// Skipping does not evict; only the targeted path removes slow clients
	assert.Equal(t, 2, clientCount(s))
}

func TestDeliverToClientRemovesSlowClient(t *testing.T) {
	s := newTestServer(t)

	slow := &Client{server: s, send: make(chan interface{}), id: "slow"}
	s.mu.Lock()
	s.clients[slow] = true
	s.mu.Unlock()

	s.deliverToClient(&broadcastRequest{
		reqType:  "message",
		msg:      ErrorMessage{Type: "error", Error: "backlog"},
		clientID: "slow",
	})

	assert.Equal(t, 0, clientCount(s))
	assert.Equal(t, int64(1), s.broadcastDrops.Load())

	_, ok := <-slow.send
	assert.False(t, ok, "slow client channel should be closed")
}

func TestDeliverToClientIgnoresUnknownID(t *testing.T) {
	s := newTestServer(t)

	// Must not panic or count a drop when the client is already gone
	s.deliverToClient(&broadcastRequest{
		reqType:  "message",
		msg:      ErrorMessage{Type: "error"},
		clientID: "vanished",
	})

	assert.Equal(t, int64(0), s.broadcastDrops.Load())
}

func TestEngineStatusSnapshot(t *testing.T) {
	s := newTestServer(t)

	status := s.engineStatusSnapshot()

	assert.Equal(t, "daemon_status", status.Type)
	assert.False(t, status.Running)
	assert.Equal(t, 0, status.QueuedDeliveries)
	assert.Equal(t, "running", status.ServerState)
	assert.NotEmpty(t, status.Timestamp)
}

func TestStatusChangeSuppression(t *testing.T) {
	s := newTestServer(t)

	s.mu.Lock()
	first := s.statusHasChangedLocked(0, 0, 0, 0)
	s.mu.Unlock()
	assert.True(t, first, "first status is always a change")

	s.mu.Lock()
	s.lastStatus = &cachedEngineStatus{queued: 0, delivering: 0, loadPercent: 0, lastGenerated: 0}
	same := s.statusHasChangedLocked(0, 0, 0.5, 0) // within 1% tolerance
	s.mu.Unlock()
	assert.False(t, same)

	s.mu.Lock()
	s.lastStatus = &cachedEngineStatus{queued: 0, delivering: 0, loadPercent: 0, lastGenerated: 0}
	changed := s.statusHasChangedLocked(3, 0, 0, 0)
	s.mu.Unlock()
	assert.True(t, changed)
}

func TestDetectEngineActivityState(t *testing.T) {
	s := newTestServer(t)

	// Empty queue reads as idle
	assert.Equal(t, EngineIdle, s.detectEngineActivityState())
}
