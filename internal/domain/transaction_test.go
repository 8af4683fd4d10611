package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransaction_Valid(t *testing.T) {
	accountID := uuid.New()
	amount := decimal.RequireFromString("100.00")

	txn, err := NewTransaction(accountID, TypeDeposit, amount, "USD", "key-1")
	require.NoError(t, err)

	assert.Equal(t, accountID, txn.AccountID)
	assert.Equal(t, StatusPending, txn.Status)
	assert.Equal(t, "key-1", txn.IdempotencyKey)
	assert.Zero(t, txn.Attempts)
	assert.True(t, amount.Equal(txn.Amount))
}

func TestNewTransaction_Invalid(t *testing.T) {
	accountID := uuid.New()
	one := decimal.NewFromInt(1)

	cases := []struct {
		name     string
		txType   TransactionType
		amount   decimal.Decimal
		currency string
	}{
		{"zero amount", TypeDeposit, decimal.Zero, "USD"},
		{"negative amount", TypeWithdrawal, decimal.NewFromInt(-5), "USD"},
		{"bad currency length", TypeDeposit, one, "USDT"},
		{"lowercase currency", TypeDeposit, one, "usd"},
		{"unknown type", TransactionType("TRANSFER"), one, "USD"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTransaction(accountID, tc.txType, tc.amount, tc.currency, "")
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSignedAmount(t *testing.T) {
	amount := decimal.RequireFromString("42.50")

	deposit, err := NewTransaction(uuid.New(), TypeDeposit, amount, "USD", "")
	require.NoError(t, err)
	assert.True(t, deposit.SignedAmount().Equal(amount))

	withdrawal, err := NewTransaction(uuid.New(), TypeWithdrawal, amount, "USD", "")
	require.NoError(t, err)
	assert.True(t, withdrawal.SignedAmount().Equal(amount.Neg()))
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to TransactionStatus
	}{
		{StatusPending, StatusProcessing},
		// Retries exhausted without the row ever starting.
		{StatusPending, StatusDeadLettered},
		// The lease holder resumes a row a dead attempt left behind.
		{StatusProcessing, StatusProcessing},
		{StatusProcessing, StatusSuccess},
		{StatusProcessing, StatusFailed},
		{StatusFailed, StatusProcessing},
		{StatusFailed, StatusDeadLettered},
	}
	for _, tr := range allowed {
		assert.True(t, tr.from.CanTransitionTo(tr.to), "%s -> %s must be allowed", tr.from, tr.to)
	}

	forbidden := []struct {
		from, to TransactionStatus
	}{
		{StatusPending, StatusSuccess},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusDeadLettered},
		{StatusSuccess, StatusProcessing},
		{StatusSuccess, StatusFailed},
		{StatusDeadLettered, StatusProcessing},
		{StatusDeadLettered, StatusPending},
		{StatusFailed, StatusSuccess},
	}
	for _, tr := range forbidden {
		assert.False(t, tr.from.CanTransitionTo(tr.to), "%s -> %s must be rejected", tr.from, tr.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusDeadLettered.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusFailed.Terminal())
}

func TestNewAccount(t *testing.T) {
	account, err := NewAccount("EUR")
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
	assert.EqualValues(t, 1, account.Version)

	_, err = NewAccount("eur")
	assert.ErrorIs(t, err, ErrValidation)
}
