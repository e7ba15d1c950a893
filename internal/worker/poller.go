package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/gh-bridge/internal/engine"
)

// Poller drains due jobs from the Redis webhook queue into the pool.
type Poller struct {
	redisClient  *redis.Client
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
	now          func() time.Time
}

func NewPoller(redisClient *redis.Client, pool *Pool, logger *slog.Logger) *Poller {
	return &Poller{
		redisClient:  redisClient,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
		now:          time.Now,
	}
}

// Start runs the polling loop until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("poller started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll claims one batch of due jobs and hands them to the pool. It returns
// the number of jobs claimed.
func (p *Poller) poll(ctx context.Context) int {
	now := float64(p.now().UnixMicro())

	results, err := p.redisClient.ZRangeByScore(ctx, engine.WebhookQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatFloat(now),
		Count: p.batchSize,
	}).Result()
	if err != nil {
		p.logger.Error("failed to poll webhook queue", "error", err)
		return 0
	}

	claimed := 0
	for _, member := range results {
		// ZRem is the claim: with several replicas polling, only one of
		// them removes the member.
		removed, err := p.redisClient.ZRem(ctx, engine.WebhookQueueKey, member).Result()
		if err != nil {
			p.logger.Error("failed to claim job", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job engine.WebhookJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			p.logger.Error("dropping unreadable job", "error", err)
			continue
		}

		if !p.pool.Submit(ctx, job) {
			p.release(ctx, member, now)
			return claimed
		}
		claimed++
	}
	return claimed
}

// release puts a claimed member back so the next poller picks it up.
func (p *Poller) release(ctx context.Context, member string, score float64) {
	err := p.redisClient.ZAdd(context.WithoutCancel(ctx), engine.WebhookQueueKey, redis.Z{
		Score:  score,
		Member: member,
	}).Err()
	if err != nil {
		p.logger.Error("failed to release claimed job", "error", err)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
