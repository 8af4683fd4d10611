package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential_Growth(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, Exponential(base, 0))
	assert.Equal(t, 200*time.Millisecond, Exponential(base, 1))
	assert.Equal(t, 400*time.Millisecond, Exponential(base, 2))
	assert.Equal(t, 800*time.Millisecond, Exponential(base, 3))
}

func TestExponential_NegativeAttemptTreatedAsZero(t *testing.T) {
	assert.Equal(t, time.Second, Exponential(time.Second, -5))
}

func TestExponential_NonPositiveBase(t *testing.T) {
	assert.Equal(t, time.Duration(0), Exponential(0, 3))
	assert.Equal(t, time.Duration(0), Exponential(-time.Second, 3))
}

func TestExponential_OverflowClamps(t *testing.T) {
	got := Exponential(time.Hour, 60)
	assert.Equal(t, time.Duration(math.MaxInt64), got)
}

func TestExponentialCapped(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, time.Second, ExponentialCapped(base, 10, time.Second))
	assert.Equal(t, 200*time.Millisecond, ExponentialCapped(base, 1, time.Second))
	// No cap when capDelay <= 0.
	assert.Equal(t, 102400*time.Millisecond, ExponentialCapped(base, 10, 0))
}

func TestExponentialCapped_NonDecreasing(t *testing.T) {
	base := 50 * time.Millisecond
	capDelay := 5 * time.Second

	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		delay := ExponentialCapped(base, attempt, capDelay)
		assert.GreaterOrEqual(t, delay, prev, "delay must never shrink across attempts")
		prev = delay
	}
}

func TestFullJitter_Range(t *testing.T) {
	delay := time.Second

	for i := 0; i < 100; i++ {
		jittered := FullJitter(delay)
		assert.GreaterOrEqual(t, jittered, time.Duration(0))
		assert.Less(t, jittered, delay)
	}
}

func TestFullJitter_ZeroDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), FullJitter(0))
	assert.Equal(t, time.Duration(0), FullJitter(-time.Second))
}

func TestSleepWithContext_Completes(t *testing.T) {
	err := SleepWithContext(context.Background(), time.Millisecond)
	require.NoError(t, err)
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepWithContext_ZeroDuration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A non-positive duration returns before the context is consulted.
	require.NoError(t, SleepWithContext(ctx, 0))
}
