package api

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/ratelimit"
)

// RateTaker is the limiter surface the middleware needs.
type RateTaker interface {
	TryAcquire(ctx context.Context, subject string, policy ratelimit.Policy, cost int64) (ratelimit.Decision, error)
}

// RateLimit enforces policy per client IP on the routes it wraps. A limiter
// outage fails open: throttling is protection, not correctness.
func RateLimit(limiter RateTaker, policy ratelimit.Policy, logger log.Logger) fiber.Handler {
	lg := log.OrNone(logger)

	return func(c *fiber.Ctx) error {
		decision, err := limiter.TryAcquire(c.UserContext(), c.IP(), policy, 1)
		if err != nil {
			lg.Warnf("rate limiter unavailable, failing open: %v", err)
			return c.Next()
		}

		c.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int64(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}

			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))

			return errorJSON(c, fiber.StatusTooManyRequests, "RATE_LIMITED",
				"request rate exceeded, slow down")
		}

		return c.Next()
	}
}
