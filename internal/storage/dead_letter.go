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

// DeadLetterRepository records transactions that exhausted their retry budget
// so operators can inspect and replay them.
type DeadLetterRepository struct {
	db     *sql.DB
	logger log.Logger
}

func NewDeadLetterRepository(db *sql.DB, logger log.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, logger: log.OrNone(logger)}
}

// Create inserts a dead letter entry.
func (r *DeadLetterRepository) Create(ctx context.Context, entry *domain.DeadLetter) error {
	const query = `
		INSERT INTO dead_letters
			(id, transaction_id, payload, error_code, error_message, attempts,
			 failed_at, replay_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.TransactionID, entry.Payload, entry.ErrorCode,
		entry.ErrorMessage, entry.Attempts, entry.FailedAt, entry.ReplayStatus)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("dead letter for %s: %w", entry.TransactionID, ErrDuplicateKey)
		}

		return fmt.Errorf("create dead letter: %w", err)
	}

	r.logger.Errorf("transaction %s dead lettered after %d attempts: %s",
		entry.TransactionID, entry.Attempts, entry.ErrorCode)

	return nil
}

// Get loads one entry by id.
func (r *DeadLetterRepository) Get(ctx context.Context, id uuid.UUID) (*domain.DeadLetter, error) {
	const query = `
		SELECT id, transaction_id, payload, COALESCE(error_code, ''),
		       COALESCE(error_message, ''), attempts, failed_at, replayed_at,
		       COALESCE(replay_status, '')
		FROM dead_letters
		WHERE id = $1`

	var entry domain.DeadLetter

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&entry.ID, &entry.TransactionID, &entry.Payload, &entry.ErrorCode,
		&entry.ErrorMessage, &entry.Attempts, &entry.FailedAt,
		&entry.ReplayedAt, &entry.ReplayStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}

		return nil, fmt.Errorf("get dead letter: %w", err)
	}

	return &entry, nil
}

// List returns dead letters, newest first.
func (r *DeadLetterRepository) List(ctx context.Context, limit, offset int) ([]*domain.DeadLetter, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	if offset < 0 {
		offset = 0
	}

	const query = `
		SELECT id, transaction_id, payload, COALESCE(error_code, ''),
		       COALESCE(error_message, ''), attempts, failed_at, replayed_at,
		       COALESCE(replay_status, '')
		FROM dead_letters
		ORDER BY failed_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*domain.DeadLetter

	for rows.Next() {
		var entry domain.DeadLetter

		err := rows.Scan(
			&entry.ID, &entry.TransactionID, &entry.Payload, &entry.ErrorCode,
			&entry.ErrorMessage, &entry.Attempts, &entry.FailedAt,
			&entry.ReplayedAt, &entry.ReplayStatus)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}

		out = append(out, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	return out, nil
}

// MarkReplayed stamps an entry after an operator requeues it.
func (r *DeadLetterRepository) MarkReplayed(ctx context.Context, id uuid.UUID, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE dead_letters SET replayed_at = now(), replay_status = $2 WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("mark dead letter replayed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark dead letter replayed: %w", err)
	}

	if affected == 0 {
		return domain.ErrTransactionNotFound
	}

	return nil
}
