package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/crewline/crewline/config"
)

// newUpgrader creates a WebSocket upgrader with origin checking from config
func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     checkOrigin,
	}
}

// checkOrigin validates WebSocket origin against configured allowed origins
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (e.g., direct WebSocket clients, testing)
	if origin == "" {
		return true
	}

	cfg, err := config.Load()
	if err != nil {
		// If config fails to load, use secure defaults (localhost only)
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost")
	}

	// Check if origin matches any of the configured allowed origins
	// We use prefix matching to allow any port number
	for _, allowedOrigin := range cfg.GetServerAllowedOrigins() {
		if strings.HasPrefix(origin, allowedOrigin) {
			return true
		}
	}

	return false
}

// isPortAvailable checks if a port is available for binding
func isPortAvailable(port int) bool {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = listener.Close() // Error ignored: best-effort port check, caller will retry on actual bind
	return true
}

// findAvailablePort tries to find an available port starting from the requested port
// It tries the requested port first, then the default, then a high fallback range
func findAvailablePort(requestedPort int) (int, error) {
	// Try the requested port first
	if isPortAvailable(requestedPort) {
		return requestedPort, nil
	}

	if config.DefaultServerPort != requestedPort && isPortAvailable(config.DefaultServerPort) {
		return config.DefaultServerPort, nil
	}

	// Try high-range fallback ports as last resort (58744-58753)
	fallbackStart := 58744
	for i := 0; i < 10; i++ {
		port := fallbackStart + i
		if isPortAvailable(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available ports found (tried %d, %d, and range 58744-58753)", requestedPort, config.DefaultServerPort)
}
