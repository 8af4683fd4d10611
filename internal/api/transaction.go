package api

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/idempotency"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/queue"
)

// IdempotencyKeyHeader carries the client's key for write endpoints.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// Admitter is the idempotency guard surface the handler needs.
type Admitter interface {
	Admit(ctx context.Context, key, fingerprint string, builder func(ctx context.Context) (*domain.Transaction, error)) (idempotency.Result, error)
	StoreResponse(ctx context.Context, key string, body []byte) error
}

// AccountReader checks the target account at admission time.
type AccountReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// TransactionReader serves the status endpoint.
type TransactionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

// TaskPublisher hands admitted transactions to the worker fleet.
type TaskPublisher interface {
	PublishExecute(ctx context.Context, task queue.Task) error
}

// TransactionHandler admits deposits and withdrawals and serves transaction
// status.
type TransactionHandler struct {
	guard        Admitter
	accounts     AccountReader
	transactions TransactionReader
	publisher    TaskPublisher
	logger       log.Logger
}

func NewTransactionHandler(guard Admitter, accounts AccountReader, transactions TransactionReader, publisher TaskPublisher, logger log.Logger) *TransactionHandler {
	return &TransactionHandler{
		guard:        guard,
		accounts:     accounts,
		transactions: transactions,
		publisher:    publisher,
		logger:       log.OrNone(logger),
	}
}

// Deposit handles POST /v1/deposits.
func (h *TransactionHandler) Deposit(c *fiber.Ctx) error {
	return h.admit(c, domain.TypeDeposit)
}

// Withdraw handles POST /v1/withdrawals.
func (h *TransactionHandler) Withdraw(c *fiber.Ctx) error {
	return h.admit(c, domain.TypeWithdrawal)
}

// admit runs the shared write path: validate, resolve the idempotency key,
// persist the PENDING transaction, enqueue the execution task. Admission is
// durable before the enqueue; a failed publish leaves the transaction
// PENDING for the operator to requeue rather than failing the request.
func (h *TransactionHandler) admit(c *fiber.Ctx, txType domain.TransactionType) error {
	key := c.Get(IdempotencyKeyHeader)
	if key == "" {
		return errorJSON(c, fiber.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY",
			IdempotencyKeyHeader+" header is required")
	}

	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON")
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "account_id is not a valid uuid")
	}

	amount, err := req.amount()
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "amount is not a valid decimal")
	}

	ctx := c.UserContext()

	account, err := h.accounts.Get(ctx, accountID)
	if err != nil {
		return respondError(c, err)
	}

	if req.Currency != account.Currency {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION_ERROR",
			"currency does not match the account currency")
	}

	// Synchronous pre-check. The authoritative check happens again inside
	// the mutation; this only rejects the obviously uncovered withdrawal
	// before any state is created.
	if txType == domain.TypeWithdrawal && account.Balance.LessThan(amount) {
		return respondError(c, domain.ErrInsufficientFunds)
	}

	fingerprint := idempotency.Fingerprint(c.Method(), c.Path(), c.Body())

	result, err := h.guard.Admit(ctx, key, fingerprint, func(ctx context.Context) (*domain.Transaction, error) {
		return domain.NewTransaction(accountID, txType, amount, req.Currency, key)
	})
	if err != nil {
		return respondError(c, err)
	}

	if result.Replay {
		if len(result.CachedResponse) > 0 {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

			return c.Status(fiber.StatusOK).Send(result.CachedResponse)
		}

		return c.Status(fiber.StatusOK).JSON(newTransactionResponse(result.Transaction))
	}

	task := queue.Task{
		TransactionID: result.Transaction.ID,
		AccountID:     result.Transaction.AccountID,
	}

	if err := h.publisher.PublishExecute(ctx, task); err != nil {
		// Admission is already durable; the transaction stays PENDING until
		// requeued. The client still gets its 202.
		h.logger.Errorf("failed to enqueue transaction %s: %v", result.Transaction.ID, err)
	}

	response := newTransactionResponse(result.Transaction)

	if body, err := json.Marshal(response); err == nil {
		if err := h.guard.StoreResponse(ctx, key, body); err != nil {
			h.logger.Warnf("failed to store idempotent response for %s: %v", key, err)
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

// Get handles GET /v1/transactions/:id.
func (h *TransactionHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "transaction id is not a valid uuid")
	}

	txn, err := h.transactions.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(newTransactionResponse(txn))
}
