// Package settlement defines the contract with the external settlement
// provider and ships a configurable simulator used for development and tests.
package settlement

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
)

// Outcome classifies a settlement response for the retry policy.
type Outcome string

const (
	// OutcomeSuccess means the movement settled; the ledger may be mutated.
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeBusinessFailure is a definitive rejection. Terminal, not retried.
	OutcomeBusinessFailure Outcome = "BUSINESS_FAILURE"
	// OutcomeTransientFailure is a recoverable fault (timeout, unavailable).
	// Fed into the retry policy with backoff.
	OutcomeTransientFailure Outcome = "TRANSIENT_FAILURE"
)

// Request is the minimal submission contract.
type Request struct {
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Type          domain.TransactionType
	Amount        decimal.Decimal
	Currency      string
}

// Result is the provider's answer. ExternalRef is set only on success.
type Result struct {
	ExternalRef string
	Outcome     Outcome
	ErrorCode   string
	ErrorDetail string
}

// Gateway submits money movements to the settlement provider. The caller
// enforces the call timeout through ctx; a context error is a transient
// failure, never a success.
type Gateway interface {
	Submit(ctx context.Context, req Request) (Result, error)
}
