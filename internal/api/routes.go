package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/ratelimit"
)

// Handlers groups everything the router mounts. Ready reports per-dependency
// connectivity for the health endpoint; when nil the endpoint answers ok
// unconditionally.
type Handlers struct {
	Accounts     *AccountHandler
	Transactions *TransactionHandler
	DeadLetters  *DeadLetterHandler
	Ready        func(ctx context.Context) map[string]bool
}

// Limits carries the per-route-class rate limit policies.
type Limits struct {
	Limiter RateTaker
	Write   ratelimit.Policy
	Read    ratelimit.Policy
}

// NewApp builds the fiber application with all routes mounted.
func NewApp(handlers Handlers, limits Limits, logger log.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "payment-gateway",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		if handlers.Ready == nil {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		deps := handlers.Ready(c.UserContext())
		status, code := "ok", fiber.StatusOK

		for _, up := range deps {
			if !up {
				status, code = "degraded", fiber.StatusServiceUnavailable
				break
			}
		}

		return c.Status(code).JSON(fiber.Map{"status": status, "dependencies": deps})
	})

	v1 := app.Group("/v1")

	write := v1.Group("", RateLimit(limits.Limiter, limits.Write, logger))
	write.Post("/accounts", handlers.Accounts.Create)
	write.Post("/deposits", handlers.Transactions.Deposit)
	write.Post("/withdrawals", handlers.Transactions.Withdraw)
	write.Post("/dead-letters/:id/replay", handlers.DeadLetters.Replay)

	read := v1.Group("", RateLimit(limits.Limiter, limits.Read, logger))
	read.Get("/transactions/:id", handlers.Transactions.Get)
	read.Get("/accounts/:id/balance", handlers.Accounts.Balance)
	read.Get("/accounts/:id/transactions", handlers.Accounts.Transactions)
	read.Get("/dead-letters", handlers.DeadLetters.List)

	return app
}
