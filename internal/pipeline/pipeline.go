// Package pipeline executes admitted transactions: acquire the account
// lease, drive the state machine, call settlement through the circuit
// breaker, and mutate the balance at most once. Retries with exponential
// backoff go back through the queue; exhausted work is dead lettered.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/lock"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/queue"
)

// Lease is a held distributed lock on an account.
type Lease interface {
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker acquires account leases. The contention path returns
// domain.ErrLockBusy once the acquisition timeout passes.
type Locker interface {
	AcquireWithRetry(ctx context.Context, key string, ttl, timeout time.Duration) (Lease, error)
}

// TransactionStore is the state-machine persistence the executor drives.
type TransactionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, code, message string) error
	RecordTransientFailure(ctx context.Context, id uuid.UUID, code, message string) (int, error)
	MarkDeadLettered(ctx context.Context, id uuid.UUID, code, message string) error
}

// Ledger applies a settled transaction's delta to the account balance.
type Ledger interface {
	ApplyDelta(ctx context.Context, accountID, transactionID uuid.UUID, delta decimal.Decimal, settlementRef string) (decimal.Decimal, error)
}

// DeadLetters records exhausted transactions for operators.
type DeadLetters interface {
	Create(ctx context.Context, entry *domain.DeadLetter) error
}

// Scheduler requeues a task after a delay.
type Scheduler interface {
	ScheduleRetry(ctx context.Context, task queue.Task, delay time.Duration) error
}

// Breaker guards the settlement call.
type Breaker interface {
	Execute(fn func() (any, error)) (any, error)
}

// Config bounds the executor's timing and retry budget.
type Config struct {
	// LeaseTTL is the account lease duration. It must exceed the worst-case
	// settlement call; the lease is renewed before the balance mutation.
	LeaseTTL time.Duration
	// LockAcquireTimeout bounds how long a task waits for a busy lease
	// before consuming an attempt and rescheduling.
	LockAcquireTimeout time.Duration
	// SettlementTimeout bounds one settlement call.
	SettlementTimeout time.Duration
	// RetryBaseDelay and RetryMaxDelay shape the exponential backoff.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// MaxAttempts is the total attempt budget, first delivery included.
	MaxAttempts int
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		LeaseTTL:           30 * time.Second,
		LockAcquireTimeout: 5 * time.Second,
		SettlementTimeout:  15 * time.Second,
		RetryBaseDelay:     2 * time.Second,
		RetryMaxDelay:      2 * time.Minute,
		MaxAttempts:        4,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()

	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}

	if c.LockAcquireTimeout <= 0 {
		c.LockAcquireTimeout = d.LockAcquireTimeout
	}

	if c.SettlementTimeout <= 0 {
		c.SettlementTimeout = d.SettlementTimeout
	}

	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}

	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
}

// redisLocker adapts *lock.Manager to the Locker interface.
type redisLocker struct {
	manager *lock.Manager
}

// NewRedisLocker wraps the redsync-backed lock manager.
func NewRedisLocker(manager *lock.Manager) Locker {
	return &redisLocker{manager: manager}
}

func (r *redisLocker) AcquireWithRetry(ctx context.Context, key string, ttl, timeout time.Duration) (Lease, error) {
	lease, err := r.manager.AcquireWithRetry(ctx, key, ttl, timeout)
	if err != nil {
		return nil, err
	}

	return lease, nil
}
