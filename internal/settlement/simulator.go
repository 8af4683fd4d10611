package settlement

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/backoff"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

// Error codes produced by the simulator's failure scenarios.
const (
	CodeUnavailable       = "SETTLEMENT_UNAVAILABLE"
	CodeTimeout           = "SETTLEMENT_TIMEOUT"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
)

// SimulatorConfig tunes the simulated provider.
type SimulatorConfig struct {
	// SuccessRate in [0, 1]. 0.9 means 9 of 10 calls settle.
	SuccessRate float64
	// MinDelay/MaxDelay bound the simulated network round trip.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultSimulatorConfig mirrors a mildly unreliable provider.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		SuccessRate: 0.9,
		MinDelay:    50 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
	}
}

// Simulator implements Gateway with configurable success probability and
// latency. Failure scenarios are weighted: transient unavailability and
// timeouts dominate, with occasional definitive insufficient-funds rejections
// from the counterparty side.
type Simulator struct {
	cfg    SimulatorConfig
	logger log.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Gateway = (*Simulator)(nil)

// NewSimulator creates a simulator with its own random source.
func NewSimulator(cfg SimulatorConfig, logger log.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg,
		logger: log.OrNone(logger),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// NewSimulatorWithSeed creates a deterministic simulator for tests.
func NewSimulatorWithSeed(cfg SimulatorConfig, seed uint64, logger log.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg,
		logger: log.OrNone(logger),
		rng:    rand.New(rand.NewPCG(seed, seed)),
	}
}

// Submit simulates a settlement round trip. Context expiry during the
// simulated delay is returned as an error so callers count it transient.
func (s *Simulator) Submit(ctx context.Context, req Request) (Result, error) {
	delay := s.delay()

	s.logger.Debugf("settlement submit %s: simulated delay %s", req.TransactionID, delay)

	if err := backoff.SleepWithContext(ctx, delay); err != nil {
		return Result{}, fmt.Errorf("settlement call aborted: %w", err)
	}

	if s.roll() < s.cfg.SuccessRate {
		ref := externalRef(req.Type)

		s.logger.Infof("settlement success for %s: ref=%s amount=%s %s",
			req.TransactionID, ref, req.Amount, req.Currency)

		return Result{ExternalRef: ref, Outcome: OutcomeSuccess}, nil
	}

	result := s.errorScenario()

	s.logger.Warnf("settlement failure for %s: code=%s", req.TransactionID, result.ErrorCode)

	return result, nil
}

func (s *Simulator) delay() time.Duration {
	if s.cfg.MaxDelay <= s.cfg.MinDelay {
		return s.cfg.MinDelay
	}

	spread := s.cfg.MaxDelay - s.cfg.MinDelay

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cfg.MinDelay + time.Duration(s.rng.Int64N(int64(spread)))
}

func (s *Simulator) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rng.Float64()
}

// errorScenario picks a weighted failure: 40% unavailable, 30% timeout,
// 30% insufficient funds at the provider.
func (s *Simulator) errorScenario() Result {
	switch roll := s.roll(); {
	case roll < 0.4:
		return Result{
			Outcome:     OutcomeTransientFailure,
			ErrorCode:   CodeUnavailable,
			ErrorDetail: "settlement service temporarily unavailable",
		}
	case roll < 0.7:
		return Result{
			Outcome:     OutcomeTransientFailure,
			ErrorCode:   CodeTimeout,
			ErrorDetail: "settlement processing timeout",
		}
	default:
		return Result{
			Outcome:     OutcomeBusinessFailure,
			ErrorCode:   CodeInsufficientFunds,
			ErrorDetail: "insufficient funds in external account",
		}
	}
}

func externalRef(txType domain.TransactionType) string {
	prefix := "STL-DEP-"
	if txType == domain.TypeWithdrawal {
		prefix = "STL-WTH-"
	}

	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
