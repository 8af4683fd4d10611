package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
)

// respondError maps the domain error taxonomy onto HTTP statuses. Unmapped
// errors are 500s with the detail withheld from the client.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return errorJSON(c, fiber.StatusConflict, "IDEMPOTENCY_CONFLICT",
			"idempotency key already used with a different request")
	case errors.Is(err, domain.ErrInsufficientFunds):
		return errorJSON(c, fiber.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS",
			"account balance cannot cover this withdrawal")
	case errors.Is(err, domain.ErrAccountNotFound):
		return errorJSON(c, fiber.StatusNotFound, "ACCOUNT_NOT_FOUND", "account not found")
	case errors.Is(err, domain.ErrTransactionNotFound):
		return errorJSON(c, fiber.StatusNotFound, "TRANSACTION_NOT_FOUND", "transaction not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		return errorJSON(c, fiber.StatusConflict, "INVALID_STATE",
			"transaction state does not permit this operation")
	default:
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR",
			"an internal error occurred")
	}
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}
