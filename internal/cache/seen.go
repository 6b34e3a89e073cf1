// Package cache provides the time-bounded seen-set used to deduplicate log
// ingestion across repeated syncs. Entries expire, so the set cannot grow
// without bound the way an in-process map would.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenStore tracks recently ingested keys. Seen reports whether the key was
// marked within the TTL window; Mark records it. Checking never marks, so a
// caller can look first and record only once its own write succeeded.
type SeenStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type RedisSeen struct {
	RDB    *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisSeen(rdb *redis.Client, ttl time.Duration) *RedisSeen {
	return &RedisSeen{RDB: rdb, TTL: ttl, Prefix: "flowbridge:seen:"}
}

func (s *RedisSeen) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.RDB.Exists(ctx, s.Prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisSeen) Mark(ctx context.Context, key string) error {
	return s.RDB.Set(ctx, s.Prefix+key, 1, s.TTL).Err()
}

// MemorySeen is the in-process fallback when Redis is not configured. Expired
// entries are swept opportunistically on Mark.
type MemorySeen struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemorySeen(ttl time.Duration) *MemorySeen {
	return &MemorySeen{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemorySeen) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if s.now().After(exp) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemorySeen) Mark(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = now.Add(s.ttl)
	return nil
}
