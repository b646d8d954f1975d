package storage

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a chunk ID does not exist in the store.
var ErrNotFound = errors.New("chunk not found")

// connectionErrorPatterns are the substrings that mark a failure as a dead
// or dying connection rather than a bad request. Drivers wrap these
// inconsistently, so classification works on the message text.
var connectionErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"EOF",
	"no route to host",
	"connection timed out",
	"session expired",
	"defunct pool",
}

// IsConnectionError reports whether err looks like a lost connection to the
// backend. Pure function; safe to call on nil.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range connectionErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
