// Package faults defines the error taxonomy shared by the matchmaking core.
// Callers branch with errors.Is rather than string matching; transient kinds
// are retried locally, the rest surface to the client.
package faults

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransientConflict marks a lost race (unique-constraint collision on
	// session insert, lost claim during matchmaking). Retried with bounded
	// attempts, then surfaced as "please try again".
	ErrTransientConflict = errors.New("transient conflict")

	// ErrNotFound marks a row that vanished between check and use. A benign
	// race: callers fall back to a fresh matchmaking attempt.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks a caller acting on a session they are not a
	// participant of. Never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited marks an over-quota caller. Use RateLimited to attach an
	// advisory wait.
	ErrRateLimited = errors.New("rate limited")

	// ErrNetwork marks a failed remote call whose effect is unknown. Callers
	// must re-check state before retrying a creating operation.
	ErrNetwork = errors.New("network failure")
)

// RateLimitedError carries the advisory wait alongside ErrRateLimited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// RateLimited wraps an advisory wait into the taxonomy.
func RateLimited(retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter}
}

// RetryAfterOf extracts the advisory wait from a rate-limit error, or zero.
func RetryAfterOf(err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
