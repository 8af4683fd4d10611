// Package backoff provides exponential delay calculation with optional jitter
// and a context-aware sleep, used by the lock acquisition loop and the
// execution pipeline's retry scheduling.
package backoff

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt with overflow protection.
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1 << attempt)

	baseInt := int64(base)
	if baseInt > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(baseInt * multiplier)
}

// ExponentialCapped returns Exponential(base, attempt) bounded by cap.
// A non-positive cap disables the bound.
func ExponentialCapped(base time.Duration, attempt int, capDelay time.Duration) time.Duration {
	delay := Exponential(base, attempt)
	if capDelay > 0 && delay > capDelay {
		return capDelay
	}

	return delay
}

// FullJitter returns a random duration in [0, delay).
// Returns 0 for zero or negative delays. If the random source fails the
// midpoint is returned so callers never stall on entropy.
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return delay / 2
	}

	return time.Duration(n.Int64())
}

// SleepWithContext sleeps for the given duration, returning early with an
// error if the context is cancelled first. Zero and negative durations return
// immediately.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
