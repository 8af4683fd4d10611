package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a durable balance holder. The balance is mutated only by the
// ledger's delta protocol while both the distributed lease and the row lock
// are held; Version increases by one with every applied mutation.
type Account struct {
	ID        uuid.UUID
	Currency  string
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccount creates a zero-balance account in the given currency.
func NewAccount(currency string) (*Account, error) {
	if !validCurrency(currency) {
		return nil, ErrValidation
	}

	now := time.Now().UTC()

	return &Account{
		ID:        uuid.New(),
		Currency:  currency,
		Balance:   decimal.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func validCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}

	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return false
		}
	}

	return true
}
