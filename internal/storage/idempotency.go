package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

// IdempotencyRecord is the durable claim on an idempotency key: which request
// shape claimed it, which transaction it produced, and the cached response.
type IdempotencyRecord struct {
	Key           string
	Fingerprint   string
	TransactionID uuid.UUID
	ResponseBody  []byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the record's retention window has passed.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IdempotencyRepository persists idempotency claims. The claim and the
// transaction it admits are written in one database transaction so a crash
// can never leave a key claimed without its transaction, or vice versa.
type IdempotencyRepository struct {
	db     *sql.DB
	logger log.Logger
}

func NewIdempotencyRepository(db *sql.DB, logger log.Logger) *IdempotencyRepository {
	return &IdempotencyRepository{db: db, logger: log.OrNone(logger)}
}

// CreateWithTransaction atomically inserts the admitted transaction and the
// key claim. A concurrent claim on the same key loses on the claim table's
// primary key and returns ErrDuplicateKey with nothing committed; the caller
// re-reads the winner. The transaction's own idempotency_key column carries
// no unique constraint, so an expired and purged key admits a fresh
// transaction even though the old one still holds the key.
func (r *IdempotencyRepository) CreateWithTransaction(ctx context.Context, record *IdempotencyRecord, txn *domain.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admission: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
			(id, account_id, type, amount, currency, status, idempotency_key,
			 attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`,
		txn.ID, txn.AccountID, txn.Type, txn.Amount, txn.Currency, txn.Status,
		txn.IdempotencyKey, txn.Attempts, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}

		return fmt.Errorf("insert transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO idempotency_records
			(key, fingerprint, transaction_id, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.Key, record.Fingerprint, record.TransactionID,
		record.ResponseBody, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}

		return fmt.Errorf("insert idempotency record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admission: %w", err)
	}

	return nil
}

// GetByKey loads a claim. Returns nil, nil when the key is unclaimed.
func (r *IdempotencyRepository) GetByKey(ctx context.Context, key string) (*IdempotencyRecord, error) {
	const query = `
		SELECT key, fingerprint, transaction_id, COALESCE(response_body, ''),
		       created_at, expires_at
		FROM idempotency_records
		WHERE key = $1`

	var record IdempotencyRecord

	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&record.Key, &record.Fingerprint, &record.TransactionID,
		&record.ResponseBody, &record.CreatedAt, &record.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("get idempotency record: %w", err)
	}

	return &record, nil
}

// SetResponse stores the serialized admission response for replays.
func (r *IdempotencyRepository) SetResponse(ctx context.Context, key string, body []byte) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE idempotency_records SET response_body = $2 WHERE key = $1`,
		key, body)
	if err != nil {
		return fmt.Errorf("set idempotency response: %w", err)
	}

	return nil
}

// Delete removes a claim. Used when an expired record is superseded.
func (r *IdempotencyRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}

	return nil
}

// PurgeExpired removes claims past their retention window. The transactions
// they admitted are kept; only the key becomes reusable.
func (r *IdempotencyRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}

	if purged > 0 {
		r.logger.Infof("purged %d expired idempotency records", purged)
	}

	return purged, nil
}
