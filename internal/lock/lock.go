// Package lock provides short-lived, fenced account leases on top of redis.
//
// A lease is advisory coordination between worker processes: it serializes
// pipeline execution for one account, but never replaces the row-level lock
// the ledger takes before mutating a balance. Both are required.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	goredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/backoff"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	libRedis "github.com/Necmettin94/PaymentGatewaySystem/internal/redis"
)

const (
	// maxLeaseTTL caps how long a crashed holder can block an account.
	maxLeaseTTL = 30 * time.Second

	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = time.Second
)

var (
	// ErrNilManager is returned when a method is called on a nil Manager.
	ErrNilManager = errors.New("lock manager is nil")
	// ErrEmptyKey is returned when an empty resource key is provided.
	ErrEmptyKey = errors.New("lock key cannot be empty")
	// ErrInvalidTTL is returned when the lease TTL is not positive.
	ErrInvalidTTL = errors.New("lease ttl must be greater than 0")
)

// Manager acquires and releases account leases. Each acquisition stores a
// random owner token; release and renewal are atomic check-and-set scripts
// that only succeed for the current owner, which fences out holders whose
// lease has expired and been reacquired elsewhere.
//
// Thread-safe: multiple goroutines can share one Manager.
type Manager struct {
	redsync *redsync.Redsync
	logger  log.Logger
}

// Lease is a held lock. It is returned by acquisition and must be released
// (or left to expire) by the same holder.
type Lease struct {
	mutex  *redsync.Mutex
	key    string
	logger log.Logger
}

// NewManager creates a lease manager over the given redis connection.
func NewManager(conn *libRedis.Connection, logger log.Logger) (*Manager, error) {
	if conn == nil {
		return nil, libRedis.ErrNilConnection
	}

	client, err := conn.GetClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("lock manager: get redis client: %w", err)
	}

	return &Manager{
		redsync: redsync.New(goredis.NewPool(client)),
		logger:  log.OrNone(logger),
	}, nil
}

// AccountKey returns the canonical lease key for an account identifier.
func AccountKey(accountID string) string {
	return "lock:account:" + accountID
}

// TryAcquire attempts a single acquisition. It returns domain.ErrLockBusy
// when the lease is held elsewhere; any other error is an infrastructure
// failure and should be propagated.
func (m *Manager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if m == nil || m.redsync == nil {
		return nil, ErrNilManager
	}

	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}

	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	if ttl > maxLeaseTTL {
		ttl = maxLeaseTTL
	}

	mutex := m.redsync.NewMutex(
		key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			m.logger.Debugf("lease %s held by another process", key)
			return nil, domain.ErrLockBusy
		}

		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}

	m.logger.Debugf("lease %s acquired", key)

	return &Lease{mutex: mutex, key: key, logger: m.logger}, nil
}

// AcquireWithRetry attempts acquisition with exponential backoff until the
// timeout elapses, then returns domain.ErrLockBusy. Context cancellation
// aborts the wait early.
func (m *Manager) AcquireWithRetry(ctx context.Context, key string, ttl, timeout time.Duration) (*Lease, error) {
	deadline := time.Now().Add(timeout)

	for attempt := 0; ; attempt++ {
		lease, err := m.TryAcquire(ctx, key, ttl)
		if err == nil {
			if attempt > 0 {
				m.logger.Debugf("lease %s acquired after %d retries", key, attempt)
			}

			return lease, nil
		}

		if !errors.Is(err, domain.ErrLockBusy) {
			return nil, err
		}

		delay := backoff.ExponentialCapped(retryBaseDelay, attempt, retryMaxDelay)
		delay += backoff.FullJitter(delay / 2)

		if time.Now().Add(delay).After(deadline) {
			m.logger.Warnf("lease %s still busy after %s (%d attempts)", key, timeout, attempt+1)
			return nil, domain.ErrLockBusy
		}

		if err := backoff.SleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Renew extends the lease by its original TTL. It returns domain.ErrLockLost
// when the lease has expired or is owned by someone else; callers must treat
// that as losing the critical section and must not mutate afterwards.
func (l *Lease) Renew(ctx context.Context) error {
	if l == nil || l.mutex == nil {
		return domain.ErrLockLost
	}

	ok, err := l.mutex.ExtendContext(ctx)
	if err != nil || !ok {
		l.logger.Warnf("lease %s renewal failed (ok=%v err=%v)", l.key, ok, err)
		return domain.ErrLockLost
	}

	return nil
}

// Release gives up the lease. Releasing a lease that already expired (and was
// possibly reacquired by another holder) returns domain.ErrLockLost; the
// stored owner token check guarantees we never delete someone else's lease.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.mutex == nil {
		return nil
	}

	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		l.logger.Errorf("lease %s release failed: %v", l.key, err)
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}

	if !ok {
		l.logger.Warnf("lease %s was not held at release time", l.key)
		return domain.ErrLockLost
	}

	l.logger.Debugf("lease %s released", l.key)

	return nil
}

// isContention distinguishes "someone else holds the lock" from real
// failures. redsync reports contention either as ErrFailed or as a taken-node
// error depending on the code path.
func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "lock already taken") ||
		strings.Contains(msg, "failed to acquire lock")
}
