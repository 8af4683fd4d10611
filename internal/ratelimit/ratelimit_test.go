package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libRedis "github.com/Necmettin94/PaymentGatewaySystem/internal/redis"
)

func setupLimiter(t *testing.T, global Policy) (*Limiter, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	conn := &libRedis.Connection{Addr: mr.Addr()}
	conn.SetClient(client)

	limiter := NewLimiter(conn, global, nil)

	// Deterministic clock, advanced by tests instead of sleeping.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	return limiter, &now
}

func TestTryAcquire_AllowsUpToCapacity(t *testing.T) {
	limiter, _ := setupLimiter(t, PerMinute(1000))
	ctx := context.Background()

	policy := Policy{Capacity: 3, RefillRate: 1}

	for i := 0; i < 3; i++ {
		decision, err := limiter.TryAcquire(ctx, "user-1", policy, 1)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d within capacity must pass", i+1)
	}

	decision, err := limiter.TryAcquire(ctx, "user-1", policy, 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Positive(t, decision.RetryAfter)
}

func TestTryAcquire_RemainingDecreases(t *testing.T) {
	limiter, _ := setupLimiter(t, PerMinute(1000))
	ctx := context.Background()

	policy := Policy{Capacity: 5, RefillRate: 1}

	decision, err := limiter.TryAcquire(ctx, "user-2", policy, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 4, decision.Remaining)

	decision, err = limiter.TryAcquire(ctx, "user-2", policy, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, decision.Remaining)
}

func TestTryAcquire_ContinuousRefill(t *testing.T) {
	limiter, clock := setupLimiter(t, PerMinute(1000))
	ctx := context.Background()

	// 2 tokens/second.
	policy := Policy{Capacity: 2, RefillRate: 2}

	for i := 0; i < 2; i++ {
		decision, err := limiter.TryAcquire(ctx, "user-3", policy, 1)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.TryAcquire(ctx, "user-3", policy, 1)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Half a second refills one token.
	*clock = clock.Add(500 * time.Millisecond)

	decision, err = limiter.TryAcquire(ctx, "user-3", policy, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestTryAcquire_RefillNeverExceedsCapacity(t *testing.T) {
	limiter, clock := setupLimiter(t, PerMinute(1000))
	ctx := context.Background()

	policy := Policy{Capacity: 2, RefillRate: 10}

	decision, err := limiter.TryAcquire(ctx, "user-4", policy, 1)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// A long idle period must cap the bucket at its capacity.
	*clock = clock.Add(time.Hour)

	for i := 0; i < 2; i++ {
		decision, err = limiter.TryAcquire(ctx, "user-4", policy, 1)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err = limiter.TryAcquire(ctx, "user-4", policy, 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestTryAcquire_GlobalCeilingWins(t *testing.T) {
	// Global ceiling of 2 per minute, generous per-subject policy.
	limiter, _ := setupLimiter(t, Policy{Capacity: 2, RefillRate: 0.1})
	ctx := context.Background()

	policy := Policy{Capacity: 100, RefillRate: 10}

	// Different subjects, so only the global bucket restricts.
	first, err := limiter.TryAcquire(ctx, "subj-a", policy, 1)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := limiter.TryAcquire(ctx, "subj-b", policy, 1)
	require.NoError(t, err)
	assert.True(t, second.Allowed)

	third, err := limiter.TryAcquire(ctx, "subj-c", policy, 1)
	require.NoError(t, err)
	assert.False(t, third.Allowed, "global ceiling must deny even with per-subject headroom")
	assert.Positive(t, third.RetryAfter)
}

func TestTryAcquire_SubjectsAreIsolated(t *testing.T) {
	limiter, _ := setupLimiter(t, PerMinute(1000))
	ctx := context.Background()

	policy := Policy{Capacity: 1, RefillRate: 0.1}

	decision, err := limiter.TryAcquire(ctx, "alice", policy, 1)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = limiter.TryAcquire(ctx, "alice", policy, 1)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	decision, err = limiter.TryAcquire(ctx, "bob", policy, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "one subject's exhaustion must not affect another")
}

func TestPerMinute(t *testing.T) {
	policy := PerMinute(30)
	assert.InDelta(t, 30, policy.Capacity, 0.001)
	assert.InDelta(t, 0.5, policy.RefillRate, 0.001)
}
