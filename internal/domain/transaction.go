// Package domain holds the engine's entities, the transaction state machine,
// and the error taxonomy shared by the admission path and the pipeline.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType discriminates the direction of a money movement.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
)

// TransactionStatus is the state-machine position of a transaction.
//
// PENDING -> PROCESSING -> {SUCCESS, FAILED}; FAILED -> PROCESSING while
// retries remain; FAILED -> DEAD_LETTERED on exhaustion. The balance moves
// only on entry into SUCCESS.
type TransactionStatus string

const (
	StatusPending      TransactionStatus = "PENDING"
	StatusProcessing   TransactionStatus = "PROCESSING"
	StatusSuccess      TransactionStatus = "SUCCESS"
	StatusFailed       TransactionStatus = "FAILED"
	StatusDeadLettered TransactionStatus = "DEAD_LETTERED"
)

// Terminal reports whether no further transition may leave the status.
// FAILED is not terminal here because the retry policy may re-enter
// PROCESSING; the pipeline decides finality via the attempt budget.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusDeadLettered
}

// CanTransitionTo reports whether the pipeline's state machine permits moving
// from s to next. PENDING may dead letter directly when the retry budget is
// consumed without the row ever starting (the account lease stayed busy), and
// PROCESSING may re-enter PROCESSING when the lease holder resumes a row left
// behind by a dead attempt. An operator requeue of a dead-lettered row is an
// out-of-band override and is deliberately absent here.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusDeadLettered
	case StatusProcessing:
		return next == StatusProcessing || next == StatusSuccess || next == StatusFailed
	case StatusFailed:
		return next == StatusProcessing || next == StatusDeadLettered
	default:
		return false
	}
}

// Transaction is the durable state-machine record of one money movement.
// Records are append-only: they are never deleted, and mutation is restricted
// to the execution pipeline once admitted.
type Transaction struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Type           TransactionType
	Amount         decimal.Decimal
	Currency       string
	Status         TransactionStatus
	SettlementRef  string
	ErrorCode      string
	ErrorMessage   string
	IdempotencyKey string
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewTransaction builds a PENDING transaction, validating amount and currency.
// The idempotency key may be empty only for system-internal transactions.
func NewTransaction(accountID uuid.UUID, txType TransactionType, amount decimal.Decimal, currency, idempotencyKey string) (*Transaction, error) {
	if txType != TypeDeposit && txType != TypeWithdrawal {
		return nil, ErrValidation
	}

	if !amount.IsPositive() {
		return nil, ErrValidation
	}

	if !validCurrency(currency) {
		return nil, ErrValidation
	}

	now := time.Now().UTC()

	return &Transaction{
		ID:             uuid.New(),
		AccountID:      accountID,
		Type:           txType,
		Amount:         amount,
		Currency:       currency,
		Status:         StatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// SignedAmount returns the balance delta this transaction applies on SUCCESS:
// positive for deposits, negative for withdrawals.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TypeWithdrawal {
		return t.Amount.Neg()
	}

	return t.Amount
}

// DeadLetter is the operator-facing record of a transaction that exhausted
// all retries, with enough context to inspect and replay it.
type DeadLetter struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	Payload       []byte
	ErrorCode     string
	ErrorMessage  string
	Attempts      int
	FailedAt      time.Time
	ReplayedAt    *time.Time
	ReplayStatus  string
}
