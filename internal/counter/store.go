// Package counter provides a fixed-window counter store shared by the rate
// limiter and the notification throttle. The Redis implementation makes the
// windows correct across processes; the in-memory one is for single-process
// deployments and tests.
package counter

import (
	"context"
	"time"
)

// Store increments named counters inside fixed time windows
type Store interface {
	// Incr increments the counter for key, starting a new window of the
	// given length if none is active. It returns the count after the
	// increment and the time remaining until the window resets.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// Get returns the current count and remaining window without
	// incrementing. A key with no active window reports zero.
	Get(ctx context.Context, key string) (int64, time.Duration, error)
}
