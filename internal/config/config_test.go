package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 4, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.LeaseTTL)
	assert.EqualValues(t, 5, cfg.Breaker.ConsecutiveFailures)
	assert.InDelta(t, 0.9, cfg.Settlement.SuccessRate, 0.001)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("MAX_ATTEMPTS", "7")
	t.Setenv("RETRY_BASE_DELAY", "500ms")
	t.Setenv("SETTLEMENT_SUCCESS_RATE", "0.5")
	t.Setenv("RATE_LIMIT_WRITES_PER_MINUTE", "120")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 7, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RetryBaseDelay)
	assert.InDelta(t, 0.5, cfg.Settlement.SuccessRate, 0.001)
	assert.InDelta(t, 120, cfg.WriteLimit.Capacity, 0.001)
	assert.InDelta(t, 2, cfg.WriteLimit.RefillRate, 0.001)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "not-a-number")
	t.Setenv("RETRY_BASE_DELAY", "soon")

	cfg := Load()

	assert.Equal(t, 4, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.RetryBaseDelay)
}
