// Package api is the fiber HTTP surface: admission of deposits and
// withdrawals, read endpoints, and the per-client rate limit.
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
)

type createAccountRequest struct {
	Currency string `json:"currency"`
}

type movementRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

func (r *movementRequest) amount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return decimal.Zero, domain.ErrValidation
	}

	return amount, nil
}

type accountResponse struct {
	ID        string          `json:"id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newAccountResponse(account *domain.Account) accountResponse {
	return accountResponse{
		ID:        account.ID.String(),
		Currency:  account.Currency,
		Balance:   account.Balance,
		Version:   account.Version,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	}
}

type transactionResponse struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	SettlementRef string          `json:"settlement_ref,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newTransactionResponse(txn *domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:            txn.ID.String(),
		AccountID:     txn.AccountID.String(),
		Type:          string(txn.Type),
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Status:        string(txn.Status),
		SettlementRef: txn.SettlementRef,
		ErrorCode:     txn.ErrorCode,
		ErrorMessage:  txn.ErrorMessage,
		Attempts:      txn.Attempts,
		CreatedAt:     txn.CreatedAt,
		UpdatedAt:     txn.UpdatedAt,
	}
}

type deadLetterResponse struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Attempts      int        `json:"attempts"`
	FailedAt      time.Time  `json:"failed_at"`
	ReplayedAt    *time.Time `json:"replayed_at,omitempty"`
	ReplayStatus  string     `json:"replay_status,omitempty"`
}

func newDeadLetterResponse(entry *domain.DeadLetter) deadLetterResponse {
	return deadLetterResponse{
		ID:            entry.ID.String(),
		TransactionID: entry.TransactionID.String(),
		ErrorCode:     entry.ErrorCode,
		ErrorMessage:  entry.ErrorMessage,
		Attempts:      entry.Attempts,
		FailedAt:      entry.FailedAt,
		ReplayedAt:    entry.ReplayedAt,
		ReplayStatus:  entry.ReplayStatus,
	}
}
