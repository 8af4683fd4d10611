package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

const transactionColumns = `
	id, account_id, type, amount, currency, status,
	COALESCE(settlement_ref, ''), COALESCE(error_code, ''),
	COALESCE(error_message, ''), COALESCE(idempotency_key, ''),
	attempts, created_at, updated_at`

// TransactionRepository persists the transaction state machine. Every status
// change is expressed as a guarded UPDATE so a stale writer affects zero rows
// instead of clobbering a newer state.
type TransactionRepository struct {
	db     *sql.DB
	logger log.Logger
}

func NewTransactionRepository(db *sql.DB, logger log.Logger) *TransactionRepository {
	return &TransactionRepository{db: db, logger: log.OrNone(logger)}
}

// Create inserts a PENDING transaction.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	const query = `
		INSERT INTO transactions
			(id, account_id, type, amount, currency, status, idempotency_key,
			 attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		txn.ID, txn.AccountID, txn.Type, txn.Amount, txn.Currency, txn.Status,
		txn.IdempotencyKey, txn.Attempts, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", txn.ID, ErrDuplicateKey)
		}

		return fmt.Errorf("create transaction: %w", err)
	}

	return nil
}

// Get loads a transaction by id.
func (r *TransactionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}

		return nil, fmt.Errorf("get transaction: %w", err)
	}

	return txn, nil
}

// ListByAccount returns the account's transactions, newest first.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction

	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		out = append(out, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return out, nil
}

// MarkProcessing moves PENDING or FAILED into PROCESSING. A row already in
// PROCESSING is resumed: the caller holds the account lease, so the previous
// attempt is known to be dead (crashed worker or a nacked delivery), not
// concurrent. Returns domain.ErrInvalidTransition on terminal rows and
// domain.ErrTransactionNotFound when the row does not exist.
func (r *TransactionRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE transactions
		SET status = 'PROCESSING', updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING', 'FAILED')`

	return r.guardedUpdate(ctx, id, query, id)
}

// MarkFailed records a terminal business failure. Only a PROCESSING row may
// move to FAILED with a definitive error; stale writers affect zero rows.
func (r *TransactionRepository) MarkFailed(ctx context.Context, id uuid.UUID, code, message string) error {
	const query = `
		UPDATE transactions
		SET status = 'FAILED', error_code = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'`

	return r.guardedUpdate(ctx, id, query, id, code, message)
}

// RecordTransientFailure bumps the attempt counter and parks the row in
// FAILED pending a retry. A row that never reached PROCESSING (lock busy)
// keeps its current status but still consumes an attempt. Returns the new
// attempt count.
func (r *TransactionRepository) RecordTransientFailure(ctx context.Context, id uuid.UUID, code, message string) (int, error) {
	const query = `
		UPDATE transactions
		SET status = CASE WHEN status = 'PROCESSING' THEN 'FAILED' ELSE status END,
		    attempts = attempts + 1,
		    error_code = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING', 'FAILED')
		RETURNING attempts`

	var attempts int

	err := r.db.QueryRowContext(ctx, query, id, code, message).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, r.transitionError(ctx, id)
		}

		return 0, fmt.Errorf("record transient failure: %w", err)
	}

	return attempts, nil
}

// MarkDeadLettered parks an exhausted transaction terminally.
func (r *TransactionRepository) MarkDeadLettered(ctx context.Context, id uuid.UUID, code, message string) error {
	const query = `
		UPDATE transactions
		SET status = 'DEAD_LETTERED', error_code = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'FAILED')`

	return r.guardedUpdate(ctx, id, query, id, code, message)
}

// Requeue re-arms a DEAD_LETTERED transaction for another full retry budget.
// This is an operator override invoked through the dead letter replay
// endpoint, not a pipeline transition: the pipeline itself never leaves a
// terminal state.
func (r *TransactionRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE transactions
		SET status = 'PENDING', attempts = 0, error_code = NULL,
		    error_message = NULL, updated_at = now()
		WHERE id = $1 AND status = 'DEAD_LETTERED'`

	return r.guardedUpdate(ctx, id, query, id)
}

func (r *TransactionRepository) guardedUpdate(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	if affected == 0 {
		return r.transitionError(ctx, id)
	}

	return nil
}

// transitionError disambiguates a zero-row guarded update: missing row or
// state-machine violation.
func (r *TransactionRepository) transitionError(ctx context.Context, id uuid.UUID) error {
	var status domain.TransactionStatus

	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM transactions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTransactionNotFound
	}

	if err != nil {
		return fmt.Errorf("inspect transaction status: %w", err)
	}

	return fmt.Errorf("transaction %s is %s: %w", id, status, domain.ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var txn domain.Transaction

	err := row.Scan(
		&txn.ID, &txn.AccountID, &txn.Type, &txn.Amount, &txn.Currency,
		&txn.Status, &txn.SettlementRef, &txn.ErrorCode, &txn.ErrorMessage,
		&txn.IdempotencyKey, &txn.Attempts, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &txn, nil
}
