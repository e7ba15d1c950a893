package reply

import (
	"context"
	"sync"
	"time"

	"github.com/Priya8975/gh-bridge/internal/domain"
)

type memoryEntry struct {
	target  domain.ReplyTarget
	expires time.Time
}

// MemoryStore is a process-local Store. Expired entries are never
// returned; Run removes them in the background.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, target domain.ReplyTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{target: target, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, key string) (*domain.ReplyTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	delete(s.entries, key)

	if !s.now().Before(entry.expires) {
		return nil, nil
	}
	target := entry.target
	return &target, nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired entries and returns how many it removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expires) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
