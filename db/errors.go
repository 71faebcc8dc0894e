package db

import (
	"strings"

	"github.com/crewline/crewline/errors"
)

// ErrDatabaseClosed is returned when an operation is attempted on a closed
// database connection, typically during shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err indicates the underlying connection
// has been closed. Checks the sentinel first, then falls back to matching
// the driver's error string for errors that crossed a process or cgo
// boundary without wrapping.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
