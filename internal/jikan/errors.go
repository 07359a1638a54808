package jikan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCancelled is returned when the caller abandoned the request. It is
	// never a user-facing failure.
	ErrCancelled   = fmt.Errorf("jikan request cancelled: %w", context.Canceled)
	ErrNotFound    = errors.New("anime not found")
	ErrInvalidID   = errors.New("invalid anime id")
	// ErrUnavailable is returned without calling out while the upstream is
	// backing off after repeated failures.
	ErrUnavailable = errors.New("anime database temporarily unavailable")
)

// StatusError carries a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("jikan HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("jikan HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the upstream may succeed if asked again.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
