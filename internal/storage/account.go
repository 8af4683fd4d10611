// Package storage holds the postgres repositories. Repositories translate
// driver errors into the domain taxonomy; callers never see pg error codes.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

// ErrDuplicateKey is returned when an insert violates a unique constraint.
var ErrDuplicateKey = errors.New("duplicate key")

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// AccountRepository reads and mutates account rows. Balance mutation goes
// exclusively through ApplyDelta.
type AccountRepository struct {
	db     *sql.DB
	logger log.Logger
}

func NewAccountRepository(db *sql.DB, logger log.Logger) *AccountRepository {
	return &AccountRepository{db: db, logger: log.OrNone(logger)}
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	const query = `
		INSERT INTO accounts (id, currency, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.Currency, account.Balance, account.Version,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", account.ID, ErrDuplicateKey)
		}

		return fmt.Errorf("create account: %w", err)
	}

	return nil
}

// Get loads an account by id.
func (r *AccountRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const query = `
		SELECT id, currency, balance, version, created_at, updated_at
		FROM accounts
		WHERE id = $1`

	var account domain.Account

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.Currency, &account.Balance, &account.Version,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}

		return nil, fmt.Errorf("get account: %w", err)
	}

	return &account, nil
}

// ApplyDelta applies a transaction's signed amount to the account balance and
// flips the transaction to SUCCESS in one database transaction. The row lock
// on the account is the inner fence: even if the distributed lease failed
// open, two writers serialize here, and the status guard on the UPDATE makes
// the second one a no-op.
//
// Returns domain.ErrAlreadyApplied when the transaction is already SUCCESS,
// domain.ErrInvalidTransition when it is not PROCESSING, and
// domain.ErrInsufficientFunds when the delta would drive the balance
// negative. Nothing is committed in any of those cases.
func (r *AccountRepository) ApplyDelta(ctx context.Context, accountID, transactionID uuid.UUID, delta decimal.Decimal, settlementRef string) (decimal.Decimal, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin apply delta: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var (
		balance decimal.Decimal
		version int64
	)

	err = tx.QueryRowContext(ctx,
		`SELECT balance, version FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID).Scan(&balance, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, domain.ErrAccountNotFound
		}

		return decimal.Zero, fmt.Errorf("lock account row: %w", err)
	}

	var status domain.TransactionStatus

	err = tx.QueryRowContext(ctx,
		`SELECT status FROM transactions WHERE id = $1 FOR UPDATE`,
		transactionID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, domain.ErrTransactionNotFound
		}

		return decimal.Zero, fmt.Errorf("lock transaction row: %w", err)
	}

	switch status {
	case domain.StatusSuccess:
		return decimal.Zero, domain.ErrAlreadyApplied
	case domain.StatusProcessing:
		// The only status allowed to mutate the balance.
	default:
		return decimal.Zero, fmt.Errorf("transaction %s is %s: %w",
			transactionID, status, domain.ErrInvalidTransition)
	}

	newBalance := balance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, domain.ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts
		 SET balance = $1, version = version + 1, updated_at = now()
		 WHERE id = $2`,
		newBalance, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("update balance: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE transactions
		 SET status = 'SUCCESS', settlement_ref = $1, error_code = NULL,
		     error_message = NULL, updated_at = now()
		 WHERE id = $2 AND status = 'PROCESSING'`,
		settlementRef, transactionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("mark transaction success: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return decimal.Zero, fmt.Errorf("mark transaction success: %w", err)
	}

	if affected == 0 {
		// Fenced out: the row changed underneath us despite the FOR UPDATE
		// read. Shouldn't happen, but the guard keeps the money safe.
		return decimal.Zero, domain.ErrInvalidTransition
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("commit apply delta: %w", err)
	}

	r.logger.Infof("applied delta %s to account %s (transaction %s, new balance %s)",
		delta, accountID, transactionID, newBalance)

	return newBalance, nil
}
