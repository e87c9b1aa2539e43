package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/counter"
)

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(counter.NewMemoryStore(), 3, time.Minute)

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "read", "tenant-1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 2-i, decision.Remaining)
	}
}

func TestLimiter_RejectsOverLimit(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(counter.NewMemoryStore(), 2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := limiter.Allow(ctx, "process", "tenant-1")
		require.NoError(t, err)
	}

	decision, err := limiter.Allow(ctx, "process", "tenant-1")
	require.Error(t, err)
	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.Remaining)
	assert.Positive(t, decision.RetryAfter)

	var rateErr *apperrors.RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 2, rateErr.Limit)
	assert.Positive(t, rateErr.RetryAfter)
}

func TestLimiter_ClassesAreSeparateWindows(t *testing.T) {
	ctx := context.Background()
	store := counter.NewMemoryStore()
	limiter := NewLimiter(store, 1, time.Minute)

	_, err := limiter.Allow(ctx, "process", "tenant-1")
	require.NoError(t, err)

	// Same key, different class: its own window
	decision, err := limiter.Allow(ctx, "read", "tenant-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestLimiter_KeysAreSeparateWindows(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(counter.NewMemoryStore(), 1, time.Minute)

	_, err := limiter.Allow(ctx, "process", "tenant-1")
	require.NoError(t, err)

	decision, err := limiter.Allow(ctx, "process", "tenant-2")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestLimiter_WindowExpiryRestoresAllowance(t *testing.T) {
	ctx := context.Background()
	store := counter.NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	limiter := NewLimiter(store, 1, time.Minute)

	_, err := limiter.Allow(ctx, "process", "tenant-1")
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "process", "tenant-1")
	require.Error(t, err)

	now = base.Add(61 * time.Second)

	decision, err := limiter.Allow(ctx, "process", "tenant-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
