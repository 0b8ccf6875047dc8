package faults

import (
	"context"
	"errors"
	"time"
)

// RetryTransient runs fn up to attempts times, sleeping base scaled by the
// attempt number between tries. Only ErrTransientConflict is retried; any
// other error (and success) returns immediately. Context cancellation wins
// over the backoff sleep.
func RetryTransient(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrTransientConflict) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(base * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
