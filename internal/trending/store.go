package trending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// Redis key layout. The cached key expires with the aggregation interval;
// the latest key persists so reads survive a cache miss without ever
// triggering a synchronous recomputation.
const (
	trendingKeyPrefix = "trending:"
	latestSuffix      = ":latest"
)

// RedisStore persists trending entries in the shared cache tier.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a trending store on the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Replace wholesale-replaces the entries for a window: the cached copy
// with TTL and the persisted fallback copy in one shot.
func (s *RedisStore) Replace(ctx context.Context, window Window, entries []Entry, ttl time.Duration) error {
	data, err := cbor.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode trending entries: %w", err)
	}

	key := trendingKeyPrefix + string(window)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.Set(ctx, key+latestSuffix, data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store trending entries for %s: %w", window, err)
	}
	return nil
}

// Get returns up to limit entries for a window. A cache miss falls
// through to the last persisted aggregation result.
func (s *RedisStore) Get(ctx context.Context, window Window, limit int) ([]Entry, error) {
	key := trendingKeyPrefix + string(window)

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		data, err = s.client.Get(ctx, key+latestSuffix).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get trending entries for %s: %w", window, err)
	}

	var entries []Entry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode trending entries for %s: %w", window, err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// InMemoryStore is an in-memory Store for tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[Window][]Entry
}

// NewInMemoryStore creates an empty in-memory trending store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[Window][]Entry),
	}
}

// Replace wholesale-replaces the entries for a window.
func (s *InMemoryStore) Replace(ctx context.Context, window Window, entries []Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[window] = append([]Entry(nil), entries...)
	return nil
}

// Get returns up to limit entries for a window.
func (s *InMemoryStore) Get(ctx context.Context, window Window, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := append([]Entry(nil), s.entries[window]...)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
