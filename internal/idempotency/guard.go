// Package idempotency implements exactly-once admission keyed by a
// client-supplied idempotency key. The durable claim in postgres is the
// single authority; redis carries a best-effort fingerprint hint that is
// always confirmed against the claim before a request is refused.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	libRedis "github.com/Necmettin94/PaymentGatewaySystem/internal/redis"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/storage"
)

const (
	// DefaultTTL is how long a key claim is honored before it may be reused.
	DefaultTTL = 24 * time.Hour

	cachePrefix = "idempotency:"
)

// ErrNilGuard is returned when operations run on a nil guard.
var ErrNilGuard = errors.New("idempotency guard is nil")

// Repository is the durable claim store.
type Repository interface {
	CreateWithTransaction(ctx context.Context, record *storage.IdempotencyRecord, txn *domain.Transaction) error
	GetByKey(ctx context.Context, key string) (*storage.IdempotencyRecord, error)
	SetResponse(ctx context.Context, key string, body []byte) error
	Delete(ctx context.Context, key string) error
}

// TransactionGetter re-reads the transaction a claim points at.
type TransactionGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

// Fingerprint hashes the request shape. Two requests with the same key must
// carry the same fingerprint or admission is refused.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{' '})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)

	return hex.EncodeToString(h.Sum(nil))
}

// Result is the admission outcome.
type Result struct {
	Transaction *domain.Transaction
	// Replay is true when the key was already claimed with the same
	// fingerprint; Transaction is the original admission, CachedResponse the
	// response body stored for it (may be empty).
	Replay         bool
	CachedResponse []byte
}

// Guard admits requests at most once per idempotency key.
type Guard struct {
	repo         Repository
	transactions TransactionGetter
	conn         *libRedis.Connection
	ttl          time.Duration
	logger       log.Logger

	now func() time.Time
}

// NewGuard wires the guard. conn may be nil; the cache hint is then skipped
// and every decision goes to postgres.
func NewGuard(repo Repository, transactions TransactionGetter, conn *libRedis.Connection, ttl time.Duration, logger log.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Guard{
		repo:         repo,
		transactions: transactions,
		conn:         conn,
		ttl:          ttl,
		logger:       log.OrNone(logger),
		now:          time.Now,
	}
}

// Admit resolves an idempotency key. A fresh key runs builder, persists the
// produced transaction together with the claim, and returns Replay=false.
// A claimed key with a matching fingerprint returns the original transaction
// with Replay=true. A claimed key with a different fingerprint returns
// domain.ErrIdempotencyConflict.
//
// The duplicate-key race is resolved in the claimant's favor: when two
// requests with the same fresh key arrive together, exactly one insert wins
// and the loser re-reads the winner's claim.
func (g *Guard) Admit(ctx context.Context, key, fingerprint string, builder func(ctx context.Context) (*domain.Transaction, error)) (Result, error) {
	if g == nil {
		return Result{}, ErrNilGuard
	}

	if key == "" || fingerprint == "" {
		return Result{}, fmt.Errorf("%w: idempotency key and fingerprint are required", domain.ErrValidation)
	}

	// The cache hint flags likely conflicts, but it can outlive the durable
	// claim it mirrors, so it never refuses admission on its own: postgres
	// always has the final word. Cache errors are ignored.
	hint, hinted := g.cachedFingerprint(ctx, key)

	record, err := g.repo.GetByKey(ctx, key)
	if err != nil {
		return Result{}, err
	}

	if record != nil {
		if record.Expired(g.now().UTC()) {
			// Retention passed; the key is reusable. Drop the stale claim and
			// its hint, then fall through to fresh admission.
			if err := g.repo.Delete(ctx, key); err != nil {
				return Result{}, err
			}

			g.dropCachedFingerprint(ctx, key)
		} else {
			return g.replay(ctx, record, fingerprint)
		}
	} else if hinted && hint != fingerprint {
		// A hint with no claim behind it is stale, not a conflict.
		g.logger.Debugf("dropping stale idempotency hint for key %s", key)
		g.dropCachedFingerprint(ctx, key)
	}

	return g.admitFresh(ctx, key, fingerprint, builder)
}

func (g *Guard) admitFresh(ctx context.Context, key, fingerprint string, builder func(ctx context.Context) (*domain.Transaction, error)) (Result, error) {
	txn, err := builder(ctx)
	if err != nil {
		return Result{}, err
	}

	now := g.now().UTC()
	record := &storage.IdempotencyRecord{
		Key:           key,
		Fingerprint:   fingerprint,
		TransactionID: txn.ID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(g.ttl),
	}

	err = g.repo.CreateWithTransaction(ctx, record, txn)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Lost the race. The winner's claim is authoritative.
			winner, getErr := g.repo.GetByKey(ctx, key)
			if getErr != nil {
				return Result{}, getErr
			}

			if winner == nil {
				// Claim vanished between insert and read; extremely unlikely.
				return Result{}, err
			}

			return g.replay(ctx, winner, fingerprint)
		}

		return Result{}, err
	}

	g.cacheFingerprint(ctx, key, fingerprint, g.ttl)

	return Result{Transaction: txn}, nil
}

func (g *Guard) replay(ctx context.Context, record *storage.IdempotencyRecord, fingerprint string) (Result, error) {
	if record.Fingerprint != fingerprint {
		return Result{}, domain.ErrIdempotencyConflict
	}

	txn, err := g.transactions.Get(ctx, record.TransactionID)
	if err != nil {
		return Result{}, err
	}

	// Refresh the hint, capped at the claim's remaining lifetime so the
	// cache entry never outlives the claim it mirrors.
	if remaining := record.ExpiresAt.Sub(g.now().UTC()); remaining > 0 {
		g.cacheFingerprint(ctx, record.Key, record.Fingerprint, remaining)
	}

	return Result{
		Transaction:    txn,
		Replay:         true,
		CachedResponse: record.ResponseBody,
	}, nil
}

// StoreResponse persists the serialized admission response so replays return
// the exact original body.
func (g *Guard) StoreResponse(ctx context.Context, key string, body []byte) error {
	if g == nil {
		return ErrNilGuard
	}

	return g.repo.SetResponse(ctx, key, body)
}

func (g *Guard) cachedFingerprint(ctx context.Context, key string) (string, bool) {
	if g.conn == nil {
		return "", false
	}

	client, err := g.conn.GetClient(ctx)
	if err != nil {
		g.logger.Warnf("idempotency cache unavailable: %v", err)
		return "", false
	}

	value, err := client.Get(ctx, cachePrefix+key).Result()
	if err != nil {
		return "", false
	}

	return value, true
}

func (g *Guard) cacheFingerprint(ctx context.Context, key, fingerprint string, ttl time.Duration) {
	if g.conn == nil {
		return
	}

	client, err := g.conn.GetClient(ctx)
	if err != nil {
		return
	}

	if err := client.Set(ctx, cachePrefix+key, fingerprint, ttl).Err(); err != nil {
		g.logger.Warnf("failed to cache idempotency fingerprint: %v", err)
	}
}

func (g *Guard) dropCachedFingerprint(ctx context.Context, key string) {
	if g.conn == nil {
		return
	}

	client, err := g.conn.GetClient(ctx)
	if err != nil {
		return
	}

	if err := client.Del(ctx, cachePrefix+key).Err(); err != nil {
		g.logger.Warnf("failed to drop idempotency fingerprint: %v", err)
	}
}
