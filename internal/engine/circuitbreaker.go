package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// CircuitBreaker tracks upstream health per host in a Redis hash, so every
// replica sees the same state.
// State transitions: closed → open → half-open → closed
//
// - Closed: requests pass, failures are counted.
// - Open: requests are rejected until the cooldown has elapsed.
// - Half-Open: a single probe request passes. Success closes, failure reopens.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
}

// CircuitBreakerState represents the current state of a host's circuit.
type CircuitBreakerState struct {
	Host         string `json:"host"`
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

// Moves an open circuit whose cooldown has elapsed to half-open. Only the
// caller that performs the move gets 1, so exactly one probe goes out.
var halfOpenScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])

if redis.call('HGET', key, 'state') ~= 'open' then
    return 0
end

local last = tonumber(redis.call('HGET', key, 'last_failed_at') or '0')
if now - last < cooldown then
    return 0
end

redis.call('HSET', key, 'state', 'half-open')
return 1
`)

func NewCircuitBreaker(redisClient *redis.Client, failureThreshold int, cooldown time.Duration, logger *slog.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldown,
	}
}

func cbKey(host string) string {
	return fmt.Sprintf("cb:%s", host)
}

// AllowRequest reports whether a request to host may proceed, together
// with the circuit state it was decided in. Redis errors fail open.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, host string) (string, bool) {
	key := cbKey(host)

	state, err := cb.redisClient.HGet(ctx, key, "state").Result()
	if err != nil {
		// No state yet (or Redis unavailable): circuit is closed
		return StateClosed, true
	}

	switch state {
	case StateOpen:
		moved, err := halfOpenScript.Run(ctx, cb.redisClient, []string{key},
			time.Now().Unix(), int64(cb.cooldownPeriod.Seconds()),
		).Int64()
		if err != nil {
			cb.logger.Error("circuit breaker script failed", "error", err, "host", host)
			return StateOpen, false
		}
		if moved == 1 {
			cb.logger.Info("circuit breaker half-open", "host", host)
			return StateHalfOpen, true
		}
		return StateOpen, false

	case StateHalfOpen:
		// A probe is already in flight
		return StateHalfOpen, false

	default:
		return StateClosed, true
	}
}

// RecordSuccess resets the circuit for host to closed.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, host string) {
	key := cbKey(host)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()
	if state == "" {
		return
	}

	cb.redisClient.HSet(ctx, key,
		"state", StateClosed,
		"failures", 0,
	)

	if state != StateClosed {
		cb.logger.Info("circuit breaker closed (recovered)", "host", host)
	}
}

// RecordFailure counts a failed request and opens the circuit when the
// threshold is reached or a half-open probe failed.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, host string) {
	key := cbKey(host)

	pipe := cb.redisClient.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, "failures", 1)
	pipe.HSet(ctx, key, "last_failed_at", time.Now().Unix())
	prev := pipe.HGet(ctx, key, "state")
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		cb.logger.Error("failed to record circuit breaker failure", "error", err, "host", host)
		return
	}

	failures := incr.Val()
	state := prev.Val()

	switch {
	case state == StateHalfOpen:
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker re-opened (probe failed)", "host", host)
	case state != StateOpen && failures >= int64(cb.failureThreshold):
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker opened",
			"host", host,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	case state == "":
		cb.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}

// GetState returns the current circuit breaker state for host.
func (cb *CircuitBreaker) GetState(ctx context.Context, host string) CircuitBreakerState {
	data, err := cb.redisClient.HGetAll(ctx, cbKey(host)).Result()
	if err != nil || len(data) == 0 {
		return CircuitBreakerState{Host: host, State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	state := data["state"]
	if state == "" {
		state = StateClosed
	}

	result := CircuitBreakerState{
		Host:     host,
		State:    state,
		Failures: failures,
	}

	if ts := data["last_failed_at"]; ts != "" {
		lastFailed, _ := strconv.ParseInt(ts, 10, 64)
		if lastFailed > 0 {
			result.LastFailedAt = time.Unix(lastFailed, 0).UTC().Format(time.RFC3339)
		}
	}

	return result
}
