package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryWindow is how long a delivery ID is remembered. GitHub
// redelivers with the same ID, so anything inside the window is a repeat.
const DeliveryWindow = time.Hour

// Deduper remembers recently seen webhook delivery IDs.
type Deduper struct {
	redisClient *redis.Client
	window      time.Duration
}

func NewDeduper(redisClient *redis.Client, window time.Duration) *Deduper {
	if window <= 0 {
		window = DeliveryWindow
	}
	return &Deduper{redisClient: redisClient, window: window}
}

func dedupeKey(deliveryID string) string {
	return fmt.Sprintf("delivery:%s", deliveryID)
}

// FirstSeen records deliveryID and reports whether this is the first
// time it was seen within the window.
func (d *Deduper) FirstSeen(ctx context.Context, deliveryID string) (bool, error) {
	ok, err := d.redisClient.SetNX(ctx, dedupeKey(deliveryID), time.Now().Unix(), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("recording delivery: %w", err)
	}
	return ok, nil
}

// Forget removes deliveryID so a redelivery is accepted again.
func (d *Deduper) Forget(ctx context.Context, deliveryID string) error {
	return d.redisClient.Del(ctx, dedupeKey(deliveryID)).Err()
}
