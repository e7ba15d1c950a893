package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestQueue_EnqueueOrdersByArrival(t *testing.T) {
	client, _ := setupTestRedis(t)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	q := NewQueue(client, logger)
	ctx := context.Background()

	base := time.Now()
	jobs := []WebhookJob{
		{ID: "second", Event: "issues", DeliveryID: "d-2", ReceivedAt: base.Add(time.Second), Payload: json.RawMessage(`{}`)},
		{ID: "first", Event: "push", DeliveryID: "d-1", ReceivedAt: base, Payload: json.RawMessage(`{}`)},
	}
	for _, job := range jobs {
		if err := q.Enqueue(ctx, job); err != nil {
			t.Fatalf("enqueue %s: %v", job.ID, err)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("expected depth 2, got %d", depth)
	}

	members, err := client.ZRange(ctx, WebhookQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}

	var head WebhookJob
	if err := json.Unmarshal([]byte(members[0]), &head); err != nil {
		t.Fatalf("decoding head: %v", err)
	}
	if head.ID != "first" {
		t.Errorf("expected oldest job first, got %q", head.ID)
	}
}

func TestDeduper_FirstSeen(t *testing.T) {
	client, mr := setupTestRedis(t)
	d := NewDeduper(client, time.Hour)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "d-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Error("first delivery should be reported as new")
	}

	again, err := d.FirstSeen(ctx, "d-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again {
		t.Error("repeated delivery should be reported as seen")
	}

	mr.FastForward(time.Hour + time.Second)

	afterWindow, err := d.FirstSeen(ctx, "d-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !afterWindow {
		t.Error("delivery should be new again after the window")
	}
}

func TestDeduper_Forget(t *testing.T) {
	client, _ := setupTestRedis(t)
	d := NewDeduper(client, 0)
	ctx := context.Background()

	if _, err := d.FirstSeen(ctx, "d-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Forget(ctx, "d-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}

	first, err := d.FirstSeen(ctx, "d-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Error("forgotten delivery should be accepted again")
	}
}

func TestQueue_RetrySchedulesWithBackoff(t *testing.T) {
	client, _ := setupTestRedis(t)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	q := NewQueue(client, logger)
	ctx := context.Background()

	now := time.Now()
	job := WebhookJob{ID: "j", Event: "push", DeliveryID: "d-1", Attempt: 1, ReceivedAt: now}

	requeued, err := q.Retry(ctx, job, now)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !requeued {
		t.Fatal("expected job to be requeued")
	}

	results, err := client.ZRangeWithScores(ctx, WebhookQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(results))
	}

	wantScore := float64(now.Add(2 * time.Second).UnixMicro())
	if results[0].Score != wantScore {
		t.Errorf("expected due score %v, got %v", wantScore, results[0].Score)
	}

	var queued WebhookJob
	if err := json.Unmarshal([]byte(results[0].Member.(string)), &queued); err != nil {
		t.Fatalf("decoding job: %v", err)
	}
	if queued.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", queued.Attempt)
	}
}

func TestQueue_RetryStopsAtMaxAttempts(t *testing.T) {
	client, _ := setupTestRedis(t)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	q := NewQueue(client, logger)

	requeued, err := q.Retry(context.Background(), WebhookJob{ID: "j", Attempt: MaxAttempts}, time.Now())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if requeued {
		t.Error("job past its last attempt must not be requeued")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
