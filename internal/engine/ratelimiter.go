package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts actions per key over a trailing window, shared by
// every replica through Redis. It guards outbound user-facing messages
// such as re-authorization prompts.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	now         func() time.Time
}

// Each key is a sorted set of action IDs scored by time in milliseconds.
// Returns 1 when the action was recorded, 0 when the window is full.
var trailingWindowScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)

if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
    return 0
end

redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		now:         time.Now,
	}
}

func limitKey(key string) string {
	return "limit:" + key
}

// Allow records an action for key and reports whether it fits within
// limit actions per window. A limit of zero or less never throttles.
// Redis errors allow the action.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}

	nowMs := rl.now().UnixMilli()
	recorded, err := trailingWindowScript.Run(ctx, rl.redisClient, []string{limitKey(key)},
		nowMs, window.Milliseconds(), limit, uuid.NewString(),
	).Int()
	if err != nil {
		rl.logger.Error("rate limit check failed", "error", err, "key", key)
		return true
	}

	if recorded == 0 {
		rl.logger.Debug("action throttled", "key", key, "limit", limit, "window", window)
		return false
	}
	return true
}
