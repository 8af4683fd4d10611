// Package ratelimit implements the admission token bucket on redis.
//
// Buckets refill continuously from the elapsed time since the last take, not
// on a fixed tick. The read-modify-write runs as a single Lua script so
// concurrent callers for the same subject can never double-spend a token.
// A separate global bucket caps total admission independently of per-subject
// policies; the most restrictive decision wins.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	libRedis "github.com/Necmettin94/PaymentGatewaySystem/internal/redis"
)

const (
	subjectKeyPrefix = "ratelimit:subject:"
	globalKey        = "ratelimit:global"

	minBucketTTL = time.Minute
)

// ErrNilLimiter is returned when a method is called on a nil Limiter.
var ErrNilLimiter = errors.New("rate limiter is nil")

// takeScript atomically refills a bucket from elapsed time and deducts the
// cost if enough tokens remain. Returns {allowed, tokensAfter}. Timestamps
// are microseconds supplied by the caller so the script stays deterministic.
var takeScript = goredis.NewScript(`
local bucket = redis.call("HMGET", KEYS[1], "tokens", "ts")
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens
local ts
if bucket[1] then
  tokens = tonumber(bucket[1])
  ts = tonumber(bucket[2])
else
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = tokens + (elapsed / 1000000) * rate
if tokens > capacity then
  tokens = capacity
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call("HMSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens)}
`)

// Policy describes one bucket: its burst capacity and refill rate in tokens
// per second.
type Policy struct {
	Capacity   float64
	RefillRate float64
}

// PerMinute builds a policy allowing limit requests per minute with a burst
// of the same size.
func PerMinute(limit int) Policy {
	return Policy{
		Capacity:   float64(limit),
		RefillRate: float64(limit) / 60,
	}
}

// Decision is the outcome of a bucket take, with the observability values
// surfaced as response headers by the admission layer.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter checks per-subject buckets and the global ceiling.
type Limiter struct {
	conn   *libRedis.Connection
	global Policy
	logger log.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter with the given global ceiling policy.
func NewLimiter(conn *libRedis.Connection, global Policy, logger log.Logger) *Limiter {
	return &Limiter{
		conn:   conn,
		global: global,
		logger: log.OrNone(logger),
		now:    time.Now,
	}
}

// TryAcquire deducts cost from the subject's bucket and from the global
// bucket. The request is allowed only when both buckets allow it; the denial
// metadata reflects the more restrictive of the two.
func (l *Limiter) TryAcquire(ctx context.Context, subject string, policy Policy, cost int64) (Decision, error) {
	if l == nil || l.conn == nil {
		return Decision{}, ErrNilLimiter
	}

	subjectDecision, err := l.take(ctx, subjectKeyPrefix+subject, policy, cost)
	if err != nil {
		return Decision{}, err
	}

	globalDecision, err := l.take(ctx, globalKey, l.global, cost)
	if err != nil {
		return Decision{}, err
	}

	decision := merge(subjectDecision, globalDecision)
	if !decision.Allowed {
		l.logger.Warnf("rate limit exceeded for subject %s (retry after %s)", subject, decision.RetryAfter)
	}

	return decision, nil
}

func (l *Limiter) take(ctx context.Context, key string, policy Policy, cost int64) (Decision, error) {
	client, err := l.conn.GetClient(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit: get redis client: %w", err)
	}

	now := l.now()

	// Keep the bucket around long enough to refill fully, twice over.
	ttl := minBucketTTL
	if policy.RefillRate > 0 {
		refill := time.Duration(2 * policy.Capacity / policy.RefillRate * float64(time.Second))
		if refill > ttl {
			ttl = refill
		}
	}

	raw, err := takeScript.Run(ctx, client,
		[]string{key},
		policy.Capacity,
		policy.RefillRate,
		now.UnixMicro(),
		cost,
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}

	reply, ok := raw.([]any)
	if !ok || len(reply) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %T", raw)
	}

	allowed, _ := reply[0].(int64)

	tokens, err := strconv.ParseFloat(fmt.Sprint(reply[1]), 64)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: parse tokens: %w", err)
	}

	return l.buildDecision(policy, cost, allowed == 1, tokens, now), nil
}

func (l *Limiter) buildDecision(policy Policy, cost int64, allowed bool, tokens float64, now time.Time) Decision {
	decision := Decision{
		Allowed:   allowed,
		Remaining: int64(math.Floor(tokens)),
	}

	if policy.RefillRate > 0 {
		missing := policy.Capacity - tokens
		decision.ResetAt = now.Add(time.Duration(missing / policy.RefillRate * float64(time.Second)))

		if !allowed {
			deficit := float64(cost) - tokens
			decision.RetryAfter = time.Duration(deficit / policy.RefillRate * float64(time.Second))
		}
	} else if !allowed {
		// A non-refilling bucket never recovers; report the reset far out.
		decision.RetryAfter = time.Hour
		decision.ResetAt = now.Add(time.Hour)
	}

	return decision
}

// merge keeps the most restrictive of two decisions.
func merge(a, b Decision) Decision {
	merged := Decision{
		Allowed:    a.Allowed && b.Allowed,
		Remaining:  a.Remaining,
		RetryAfter: a.RetryAfter,
		ResetAt:    a.ResetAt,
	}

	if b.Remaining < merged.Remaining {
		merged.Remaining = b.Remaining
	}

	if b.RetryAfter > merged.RetryAfter {
		merged.RetryAfter = b.RetryAfter
	}

	if b.ResetAt.After(merged.ResetAt) {
		merged.ResetAt = b.ResetAt
	}

	return merged
}
