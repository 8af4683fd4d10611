// Package breaker wraps calls to the settlement gateway in a circuit breaker
// so a degraded downstream fails fast instead of tying up pipeline workers.
package breaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

// State mirrors the breaker position without leaking the gobreaker type.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
	StateUnknown  State = "UNKNOWN"
)

// Config tunes trip and recovery behavior.
type Config struct {
	// ConsecutiveFailures trips the breaker from Closed to Open.
	ConsecutiveFailures uint32
	// Cooldown is how long the breaker stays Open before allowing trials.
	Cooldown time.Duration
	// HalfOpenMaxCalls bounds trial calls while Half-Open.
	HalfOpenMaxCalls uint32
}

// DefaultConfig matches the engine defaults: trip after 5 consecutive
// failures, 60s cooldown, a single half-open trial.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		Cooldown:            60 * time.Second,
		HalfOpenMaxCalls:    1,
	}
}

func (c *Config) normalize() {
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}

	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}

	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
}

// Breaker is a circuit breaker for a single downstream service.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger log.Logger
}

// New creates a named circuit breaker.
func New(name string, cfg Config, logger log.Logger) *Breaker {
	cfg.normalize()

	lg := log.OrNone(logger)

	breaker := &Breaker{logger: lg}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				lg.Errorf("circuit breaker [%s] opened (%s -> %s): calls fail fast", name, from, to)
			case gobreaker.StateHalfOpen:
				lg.Infof("circuit breaker [%s] half-open: testing recovery", name)
			case gobreaker.StateClosed:
				lg.Infof("circuit breaker [%s] closed: downstream healthy", name)
			}
		},
	}

	breaker.cb = gobreaker.NewCircuitBreaker(settings)

	return breaker
}

// Execute runs fn through the breaker. When the circuit is open (or the
// half-open trial budget is exhausted) it returns domain.ErrCircuitOpen
// without invoking fn. On any other failure the value fn returned is passed
// through alongside the error, so callers can mark a call as a breaker
// failure while still consuming its result.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.logger.Warnf("circuit breaker [%s] rejected call: %v", b.cb.Name(), err)
			return nil, fmt.Errorf("%w: %s", domain.ErrCircuitOpen, err)
		}

		return result, err
	}

	return result, nil
}

// State returns the current breaker position.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
