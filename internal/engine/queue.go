package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const WebhookQueueKey = "webhook_queue"

// WebhookJob is one verified webhook delivery waiting to be dispatched.
type WebhookJob struct {
	ID         string          `json:"id"`
	Event      string          `json:"event"`
	DeliveryID string          `json:"delivery_id"`
	Repository string          `json:"repository"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
	Attempt    int             `json:"attempt"`
}

const (
	MaxAttempts = 4
	baseBackoff = 2 * time.Second
)

// Backoff is the delay before the given retry attempt: 2s, 4s, 8s, ...
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return baseBackoff << (attempt - 1)
}

// Queue holds webhook jobs in a Redis sorted set scored by the time they
// become due, so the poller drains them oldest first and skips retries
// that are still backing off.
type Queue struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewQueue(redisClient *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{
		redisClient: redisClient,
		logger:      logger,
	}
}

func (q *Queue) Enqueue(ctx context.Context, job WebhookJob) error {
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if err := q.schedule(ctx, job, job.ReceivedAt); err != nil {
		return err
	}

	q.logger.Info("webhook queued",
		"job_id", job.ID,
		"event", job.Event,
		"delivery_id", job.DeliveryID,
		"repository", job.Repository,
	)
	return nil
}

// Retry puts job back on the queue with its attempt incremented, due
// after the backoff for that attempt. It reports false once the job has
// used all its attempts.
func (q *Queue) Retry(ctx context.Context, job WebhookJob, now time.Time) (bool, error) {
	if job.Attempt >= MaxAttempts {
		return false, nil
	}
	job.Attempt++
	dueAt := now.Add(Backoff(job.Attempt - 1))
	if err := q.schedule(ctx, job, dueAt); err != nil {
		return false, err
	}

	q.logger.Info("webhook scheduled for retry",
		"job_id", job.ID,
		"delivery_id", job.DeliveryID,
		"attempt", job.Attempt,
		"due_at", dueAt,
	)
	return true, nil
}

func (q *Queue) schedule(ctx context.Context, job WebhookJob, dueAt time.Time) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	err = q.redisClient.ZAdd(ctx, WebhookQueueKey, redis.Z{
		Score:  float64(dueAt.UnixMicro()),
		Member: string(jobBytes),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing webhook: %w", err)
	}
	return nil
}

// Depth returns the current number of jobs waiting in the queue.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.redisClient.ZCard(ctx, WebhookQueueKey).Result()
}
