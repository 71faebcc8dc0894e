package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/crewline/crewline/errors"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeWrappedError logs an internal failure and writes it as a JSON error
func writeWrappedError(w http.ResponseWriter, logger *zap.SugaredLogger, err error, message string, status int) {
	logger.Errorw(message, "error", err)
	writeError(w, status, fmt.Sprintf("%s: %v", message, err))
}

// handleError maps domain errors onto HTTP status codes. Client-caused
// errors get their own codes; everything else is an internal failure.
func handleError(w http.ResponseWriter, logger *zap.SugaredLogger, err error, message string) {
	switch {
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsInvalidRequest(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.IsDuplicate(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.IsPlanLimit(err):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.IsTenantInactive(err):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.IsRateLimited(err):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeWrappedError(w, logger, err, message, http.StatusInternalServerError)
	}
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return err
	}
	return nil
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// requireMethods checks if the request method matches one of the expected methods
func requireMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// extractPathParts extracts path segments after removing a prefix
func extractPathParts(urlPath, prefix string) []string {
	return strings.Split(strings.TrimPrefix(urlPath, prefix), "/")
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
