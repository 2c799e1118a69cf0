// Package errkind defines the error kinds shared across the platform.
//
// Services wrap these sentinels with fmt.Errorf("...: %w", ...) so callers
// can classify failures with errors.Is without depending on error text.
package errkind

import "errors"

var (
	// ErrNotFound indicates the referenced session, turn or user is absent.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the actor is not a participant of the target session.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput indicates missing required fields or malformed metadata.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageUnavailable indicates the storage backend is unreachable after retries.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUpstreamUnavailable indicates the LLM provider failed after retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited indicates a cooldown or rate cap is in force.
	ErrRateLimited = errors.New("rate limited")
)
