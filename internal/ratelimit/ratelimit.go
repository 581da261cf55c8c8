package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultWindow is the fixed rate-limit window length.
const DefaultWindow = time.Minute

// Decision is the outcome of one CheckAndConsume call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// checkScript performs the limit check and increment atomically so concurrent
// callers sharing an identity cannot double-count or lose increments. A
// counter at or above the limit is rejected without incrementing.
var checkScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
	return {0, current, redis.call("PTTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, current, redis.call("PTTL", KEYS[1])}
`)

// Limiter is a fixed-window counter keyed by caller identity. Windows are
// discrete: a burst of up to 2x the limit is possible across a window
// boundary, which is accepted behavior for this service.
type Limiter struct {
	client *redis.Client
	window time.Duration
	logger zerolog.Logger
}

// NewLimiter builds a Limiter over the shared Redis client. A zero window
// falls back to DefaultWindow.
func NewLimiter(client *redis.Client, window time.Duration, logger zerolog.Logger) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{client: client, window: window, logger: logger}
}

func counterKey(identity string) string {
	return "ratelimit:" + identity
}

// CheckAndConsume consumes one unit of quota for identity if any remains.
// When the backing store is unreachable the limiter fails open: blocking all
// traffic on a cache outage is worse than briefly losing rate accounting.
func (l *Limiter) CheckAndConsume(ctx context.Context, identity string, limit int) (Decision, error) {
	now := time.Now()
	res, err := checkScript.Run(ctx, l.client, []string{counterKey(identity)}, limit, l.window.Milliseconds()).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("identity", identity).Msg("ratelimit: store unreachable, failing open")
		return Decision{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(l.window)}, nil
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %T", res)
	}
	allowed := vals[0].(int64) == 1
	count := int(vals[1].(int64))
	ttlMs := vals[2].(int64)

	// A missing or broken TTL is treated as "window resets now" rather than
	// propagating a failure out of the check.
	resetAt := now
	if ttlMs > 0 {
		resetAt = now.Add(time.Duration(ttlMs) * time.Millisecond)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}
