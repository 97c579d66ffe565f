package domain

import "errors"

var (
	// ErrRemoteUnavailable covers network failures, timeouts and backend error responses.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrValidation indicates a request rejected locally, before reaching the backend.
	ErrValidation = errors.New("validation error")
	// ErrNotConfigured indicates an operation that needs a forwarding mapping when none exists.
	ErrNotConfigured = errors.New("forwarding not configured")
	// ErrReprogramIncomplete indicates the backend accepted a status change but the
	// carrier could not be re-programmed for it. The carrier keeps its previous forwarding.
	ErrReprogramIncomplete = errors.New("carrier re-programming incomplete")
	// ErrCacheMiss indicates no cached state exists for the user.
	ErrCacheMiss = errors.New("cache entry not found")
)

// IsValidation reports whether err is a locally detected validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotConfigured)
}
