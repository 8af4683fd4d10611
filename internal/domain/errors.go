package domain

import "errors"

var (
	// ErrValidation is returned for malformed input (amount, currency, ids).
	// Rejected synchronously; no record is created.
	ErrValidation = errors.New("validation failed")
	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a different request payload. Client error, never retried.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different payload")
	// ErrInsufficientFunds is returned when a withdrawal would drive the
	// balance negative. Checked synchronously at admission and re-checked
	// atomically at mutation time.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrLockBusy signals that the account lease is held elsewhere. Internal;
	// drives a reschedule, never a final state.
	ErrLockBusy = errors.New("account lock busy")
	// ErrLockLost signals that a held lease expired or was taken over before
	// the critical section completed. The mutation must not proceed.
	ErrLockLost = errors.New("account lock lost")
	// ErrCircuitOpen is returned when the settlement circuit breaker rejects
	// a call without contacting the gateway. Treated as transient.
	ErrCircuitOpen = errors.New("settlement circuit open")
	// ErrAccountNotFound is returned for an unknown account identifier.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTransactionNotFound is returned for an unknown transaction identifier.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrAlreadyApplied is returned by the ledger when a transaction's
	// monetary effect has already been recorded. The call is a no-op.
	ErrAlreadyApplied = errors.New("transaction effect already applied")
	// ErrInvalidTransition is returned when a status change violates the
	// transaction state machine, including fenced-out stale writers.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
)
