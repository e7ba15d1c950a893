package reply

import (
	"context"

	"github.com/google/uuid"

	"github.com/Priya8975/gh-bridge/internal/domain"
)

// Store keeps reply targets for a bounded time. Take returns an entry at
// most once; it returns nil when the key is unknown, expired or already
// taken.
type Store interface {
	Put(ctx context.Context, key string, target domain.ReplyTarget) error
	Take(ctx context.Context, key string) (*domain.ReplyTarget, error)
}

// NewKey returns an opaque reply key.
func NewKey() string {
	return uuid.NewString()
}
