package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

// AccountStore is the account persistence surface the handler needs.
type AccountStore interface {
	Create(ctx context.Context, account *domain.Account) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// TransactionLister pages an account's transaction history.
type TransactionLister interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Transaction, error)
}

// AccountHandler serves account creation, balances and history.
type AccountHandler struct {
	accounts     AccountStore
	transactions TransactionLister
	logger       log.Logger
}

func NewAccountHandler(accounts AccountStore, transactions TransactionLister, logger log.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:     accounts,
		transactions: transactions,
		logger:       log.OrNone(logger),
	}
}

// Create handles POST /v1/accounts.
func (h *AccountHandler) Create(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON")
	}

	account, err := domain.NewAccount(req.Currency)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.accounts.Create(c.UserContext(), account); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(newAccountResponse(account))
}

// Balance handles GET /v1/accounts/:id/balance.
func (h *AccountHandler) Balance(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "account id is not a valid uuid")
	}

	account, err := h.accounts.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"account_id": account.ID.String(),
		"currency":   account.Currency,
		"balance":    account.Balance,
		"version":    account.Version,
		"updated_at": account.UpdatedAt,
	})
}

// Transactions handles GET /v1/accounts/:id/transactions.
func (h *AccountHandler) Transactions(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "account id is not a valid uuid")
	}

	ctx := c.UserContext()

	// Existence check so an unknown account is a 404, not an empty page.
	if _, err := h.accounts.Get(ctx, id); err != nil {
		return respondError(c, err)
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	transactions, err := h.transactions.ListByAccount(ctx, id, limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	items := make([]transactionResponse, 0, len(transactions))
	for _, txn := range transactions {
		items = append(items, newTransactionResponse(txn))
	}

	return c.JSON(fiber.Map{
		"account_id":   id.String(),
		"transactions": items,
		"limit":        limit,
		"offset":       offset,
	})
}
