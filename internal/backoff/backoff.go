// Package backoff holds the exponential backoff helpers shared by the HTTP
// client and the batch scheduler.
package backoff

import (
	"context"
	"time"
)

// Duration returns the exponential backoff duration for the given attempt
// number (0-based retry index), clamped to max.
func Duration(initial time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial > max {
			return max
		}
		return initial
	}
	// exponential: initial * 2^attempt
	d := initial << attempt
	if d <= 0 || d > max {
		return max
	}
	return d
}

// Sleep waits for d but aborts early if ctx is canceled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
