// Package ratelimit implements fixed-window request throttling keyed by
// caller and endpoint class. The window does not decay; it resets completely
// when it expires.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/counter"
)

// Decision is the limiter's verdict for one request
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter throttles requests against a counter store
type Limiter struct {
	store  counter.Store
	limit  int
	window time.Duration
}

// NewLimiter creates a fixed-window limiter allowing limit requests per window
func NewLimiter(store counter.Store, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
	}
}

// Allow registers a request for the key and returns the decision. When the
// ceiling is exceeded the returned error is a RateLimitedError carrying the
// retry-after duration.
func (l *Limiter) Allow(ctx context.Context, class, key string) (*Decision, error) {
	count, ttl, err := l.store.Incr(ctx, fmt.Sprintf("ratelimit:%s:%s", class, key), l.window)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	if count > int64(l.limit) {
		return &Decision{
				Allowed:    false,
				Limit:      l.limit,
				Remaining:  0,
				RetryAfter: ttl,
			}, &apperrors.RateLimitedError{
				Limit:      l.limit,
				Remaining:  0,
				RetryAfter: ttl,
			}
	}

	remaining := l.limit - int(count)
	return &Decision{
		Allowed:    true,
		Limit:      l.limit,
		Remaining:  remaining,
		RetryAfter: 0,
	}, nil
}
