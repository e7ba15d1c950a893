package reply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/gh-bridge/internal/domain"
)

// RedisStore keeps reply targets as JSON strings with a PX expiry. Take
// uses GETDEL, so concurrent takers of one key cannot both succeed.
type RedisStore struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *slog.Logger
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger,
	}
}

func replyKey(key string) string {
	return fmt.Sprintf("reply:%s", key)
}

func (s *RedisStore) Put(ctx context.Context, key string, target domain.ReplyTarget) error {
	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("marshaling reply target: %w", err)
	}

	if err := s.redisClient.Set(ctx, replyKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing reply target: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, key string) (*domain.ReplyTarget, error) {
	data, err := s.redisClient.GetDel(ctx, replyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taking reply target: %w", err)
	}

	var target domain.ReplyTarget
	if err := json.Unmarshal(data, &target); err != nil {
		s.logger.Error("discarding unreadable reply target", "reply_key", key, "error", err)
		return nil, nil
	}
	return &target, nil
}
