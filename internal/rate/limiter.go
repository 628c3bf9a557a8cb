package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds challenge limiter tuning parameters.
type Config struct {
	// MaxChallenges is the number of challenges a user may receive per window.
	MaxChallenges int
	Window        time.Duration
}

// countScript increments the window counter and starts the window on the
// first hit. It returns the count and the milliseconds left in the window.
var countScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// Limiter bounds how many push challenges a single user receives per window,
// which protects users against push-fatigue attacks. Counters live in Redis so
// the budget is shared across service replicas.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

// CheckChallenge consumes one unit of the user's budget. Once the budget of
// the current window is spent it returns a [*LimitError], which matches
// ErrRateLimited.
func (l *Limiter) CheckChallenge(ctx context.Context, tenant, username string) error {
	window := l.config.Window.Milliseconds()
	if window <= 0 {
		window = 1
	}
	vals, err := countScript.Run(ctx, l.redis, []string{challengeKey(tenant, username)}, window).Int64Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(vals) != 2 {
		return fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, vals)
	}
	if vals[0] > int64(l.config.MaxChallenges) {
		return &LimitError{RetryAfter: time.Duration(vals[1]) * time.Millisecond}
	}
	return nil
}

// Attempts returns the number of challenges counted in the current window.
func (l *Limiter) Attempts(ctx context.Context, tenant, username string) (int, error) {
	count, err := l.redis.Get(ctx, challengeKey(tenant, username)).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return max(count, 0), nil
}

// Reset clears the user's counter.
func (l *Limiter) Reset(ctx context.Context, tenant, username string) error {
	if err := l.redis.Del(ctx, challengeKey(tenant, username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
