package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
)

var errDownstream = errors.New("downstream unavailable")

func failing(calls *int) func() (any, error) {
	return func() (any, error) {
		*calls++
		return nil, errDownstream
	}
}

func TestExecute_PassesThroughWhenClosed(t *testing.T) {
	b := New("test", DefaultConfig(), nil)

	result, err := b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Config{ConsecutiveFailures: 5, Cooldown: time.Minute}, nil)

	calls := 0

	for i := 0; i < 5; i++ {
		_, err := b.Execute(failing(&calls))
		require.ErrorIs(t, err, errDownstream)
	}

	require.Equal(t, 5, calls)
	require.Equal(t, StateOpen, b.State())

	// Open circuit fails fast without touching the downstream.
	_, err := b.Execute(failing(&calls))
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, 5, calls, "open breaker must not invoke the function")
}

func TestExecute_FailureCarriesValueAndCountsAgainstBreaker(t *testing.T) {
	b := New("test", Config{ConsecutiveFailures: 2, Cooldown: time.Minute}, nil)

	// A call can report a structured result and still count as a failure,
	// e.g. a gateway outcome the caller classifies as degraded.
	degraded := func() (any, error) { return "partial result", errDownstream }

	result, err := b.Execute(degraded)
	require.ErrorIs(t, err, errDownstream)
	assert.Equal(t, "partial result", result)

	_, err = b.Execute(degraded)
	require.ErrorIs(t, err, errDownstream)
	require.Equal(t, StateOpen, b.State())

	_, err = b.Execute(degraded)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	b := New("test", Config{ConsecutiveFailures: 3, Cooldown: time.Minute}, nil)

	calls := 0

	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failing(&calls))
	}

	_, err := b.Execute(func() (any, error) { return nil, nil })
	require.NoError(t, err)

	// The counter restarted, so two more failures must not trip it.
	for i := 0; i < 2; i++ {
		_, err = b.Execute(failing(&calls))
		require.ErrorIs(t, err, errDownstream)
	}

	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_HalfOpenRecovery(t *testing.T) {
	b := New("test", Config{ConsecutiveFailures: 2, Cooldown: 50 * time.Millisecond, HalfOpenMaxCalls: 1}, nil)

	calls := 0

	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failing(&calls))
	}

	require.Equal(t, StateOpen, b.State())

	time.Sleep(80 * time.Millisecond)

	// One successful trial call closes the circuit again.
	_, err := b.Execute(func() (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	b := New("test", Config{ConsecutiveFailures: 2, Cooldown: 50 * time.Millisecond, HalfOpenMaxCalls: 1}, nil)

	calls := 0

	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failing(&calls))
	}

	time.Sleep(80 * time.Millisecond)

	_, err := b.Execute(failing(&calls))
	require.ErrorIs(t, err, errDownstream)
	assert.Equal(t, StateOpen, b.State())

	_, err = b.Execute(failing(&calls))
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestConfigNormalize(t *testing.T) {
	b := New("defaults", Config{}, nil)
	require.NotNil(t, b)
	assert.Equal(t, StateClosed, b.State())
}
