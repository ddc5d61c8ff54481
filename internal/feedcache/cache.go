// Package feedcache provides the two-tier, cross-instance coherent cache
// for precomputed feed pages. Tier 1 is a bounded in-process map with a
// short TTL; tier 2 is shared Redis with a longer TTL. Invalidations clear
// tier 1 immediately, delete the tier-2 keys, and broadcast a best-effort
// pub/sub event so other instances drop their stale tier-1 entries without
// waiting for TTL. Backend unavailability never surfaces to callers: every
// Redis operation degrades to a benign default (miss or no-op), so the
// worst case is always-compute mode.
package feedcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/OxyHQ/mention-feed/internal/feed"
)

// Default cache parameters.
const (
	// DefaultLocalTTL bounds the staleness window for remote
	// invalidations that were lost in transit.
	DefaultLocalTTL = 60 * time.Second

	// DefaultSharedTTL is the tier-2 expiry.
	DefaultSharedTTL = 15 * time.Minute

	// DefaultMaxLocalEntries bounds the tier-1 map.
	DefaultMaxLocalEntries = 1000

	// DefaultChannel is the pub/sub channel for invalidation events.
	DefaultChannel = "feed:invalidations"
)

// keyPrefix namespaces feed page keys in the shared Redis instance.
const cacheKeyPrefix = "feed:"

// Entry is one cached feed page: the ranked posts for a (viewer, feed
// type) pair. Entries are immutable once created.
type Entry struct {
	ViewerID  string            `cbor:"1,keyasint"`
	FeedType  string            `cbor:"2,keyasint"`
	Posts     []feed.ScoredPost `cbor:"3,keyasint"`
	CreatedAt time.Time         `cbor:"4,keyasint"`
	ExpiresAt time.Time         `cbor:"5,keyasint"`

	// Generation invalidates tier-1 entries without a network round trip.
	// Tier-1 copies carry the (viewer, feed type) invalidation generation
	// they were stored under; a bumped generation marks them stale
	// regardless of TTL. Tier-2 copies carry the monotonic compute stamp
	// of the producing instance.
	Generation uint64 `cbor:"6,keyasint"`
}

// ComputeFunc produces a ranked feed page on a cache miss.
type ComputeFunc func(ctx context.Context) ([]feed.ScoredPost, error)

// Config holds cache construction parameters. Zero values fall back to
// the defaults above.
type Config struct {
	LocalTTL        time.Duration
	SharedTTL       time.Duration
	MaxLocalEntries int
	Channel         string
	Logger          *slog.Logger
	Metrics         *Metrics
}

// Cache is the two-tier feed cache. A nil Redis client is allowed and
// simply degrades the cache to tier 1 only.
type Cache struct {
	local      *localCache
	client     *redis.Client
	config     Config
	tracker    *invalidationTracker
	generation atomic.Uint64
	instanceID string
	logger     *slog.Logger
	metrics    *Metrics

	// degraded flips on the first backend failure so the outage is
	// logged once, not once per request.
	degraded atomic.Bool

	subCancel context.CancelFunc
	subDone   chan struct{}
}

// New creates a feed cache on the given Redis client.
func New(client *redis.Client, config Config) *Cache {
	if config.LocalTTL <= 0 {
		config.LocalTTL = DefaultLocalTTL
	}
	if config.SharedTTL <= 0 {
		config.SharedTTL = DefaultSharedTTL
	}
	if config.MaxLocalEntries <= 0 {
		config.MaxLocalEntries = DefaultMaxLocalEntries
	}
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics()
	}

	return &Cache{
		local:      newLocalCache(config.MaxLocalEntries),
		client:     client,
		config:     config,
		tracker:    newInvalidationTracker(),
		instanceID: newInstanceID(),
		logger:     config.Logger.With("component", "feedcache"),
		metrics:    config.Metrics,
	}
}

// cacheKey builds the tier key for a (viewer, feed type) pair.
func cacheKey(viewerID, feedType string) string {
	return cacheKeyPrefix + viewerID + ":" + feedType
}

// GetOrCompute returns the cached feed page for (viewerID, feedType),
// computing and populating both tiers on a miss. Anonymous viewers bypass
// the cache entirely. Cache backend failures degrade to compute; they are
// never returned to the caller.
func (c *Cache) GetOrCompute(ctx context.Context, viewerID, feedType string, fn ComputeFunc) ([]feed.ScoredPost, error) {
	if viewerID == "" {
		return fn(ctx)
	}

	key := cacheKey(viewerID, feedType)
	now := time.Now()

	// Tier 1, validated by generation: any invalidation since the entry
	// was stored has moved the counter.
	if entry := c.local.get(key, now); entry != nil {
		if c.tracker.generationFor(viewerID, feedType) != entry.Generation {
			c.local.delete(key)
		} else {
			c.metrics.IncHit(TierLocal)
			return entry.Posts, nil
		}
	}

	// Tier 2.
	if entry := c.sharedGet(ctx, key); entry != nil {
		if !c.tracker.staleAt(viewerID, feedType, entry.CreatedAt) {
			c.metrics.IncHit(TierShared)
			c.localSet(key, entry)
			return entry.Posts, nil
		}
	}

	c.metrics.IncMiss()
	posts, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	c.store(ctx, viewerID, feedType, posts, now)
	return posts, nil
}

// Warm proactively computes and populates the cache for a viewer outside
// the request path, for background refresh jobs. The computed page is
// always stored, replacing whatever was cached.
func (c *Cache) Warm(ctx context.Context, viewerID, feedType string, fn ComputeFunc) error {
	if viewerID == "" {
		return fmt.Errorf("cannot warm cache for anonymous viewer")
	}

	posts, err := fn(ctx)
	if err != nil {
		return fmt.Errorf("warm %s/%s: %w", viewerID, feedType, err)
	}

	c.store(ctx, viewerID, feedType, posts, time.Now())
	return nil
}

// Invalidate clears the cached pages for a viewer. With feed types given
// it deletes those exact keys; without, it clears every feed type for the
// viewer via a pattern scan. The invalidation is applied locally first,
// then broadcast best-effort so other instances drop their tier-1 entries
// without waiting for TTL. Publish failure degrades those instances to
// TTL-only invalidation; it never blocks or fails the caller.
func (c *Cache) Invalidate(ctx context.Context, viewerID string, feedTypes ...string) {
	if viewerID == "" {
		return
	}

	now := time.Now()
	c.tracker.record(viewerID, feedTypes, now)
	c.metrics.IncInvalidation(SourceLocal)

	if len(feedTypes) == 0 {
		c.local.deletePrefix(cacheKeyPrefix + viewerID + ":")
		c.sharedDeletePattern(ctx, cacheKeyPrefix+viewerID+":*")
	} else {
		for _, ft := range feedTypes {
			key := cacheKey(viewerID, ft)
			c.local.delete(key)
			c.sharedDelete(ctx, key)
		}
	}

	c.publish(ctx, invalidationEvent{
		Origin:    c.instanceID,
		ViewerID:  viewerID,
		FeedTypes: feedTypes,
		At:        now,
	})
}

// store writes a freshly computed page into both tiers.
func (c *Cache) store(ctx context.Context, viewerID, feedType string, posts []feed.ScoredPost, now time.Time) {
	key := cacheKey(viewerID, feedType)
	entry := &Entry{
		ViewerID:   viewerID,
		FeedType:   feedType,
		Posts:      posts,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.config.LocalTTL),
		Generation: c.generation.Add(1),
	}

	c.localSet(key, entry)
	c.sharedSet(ctx, key, entry)
}

// localSet stores into tier 1 and records evictions. The local TTL runs
// from insertion, not computation: a page promoted from tier 2 late in
// its shared life still earns a full tier-1 window, with coherence
// guaranteed by the generation stamp rather than the entry's age.
func (c *Cache) localSet(key string, entry *Entry) {
	local := *entry
	local.ExpiresAt = time.Now().Add(c.config.LocalTTL)
	local.Generation = c.tracker.generationFor(entry.ViewerID, entry.FeedType)
	if evicted := c.local.set(key, &local); evicted > 0 {
		c.metrics.AddEvictions(evicted)
	}
}

// sharedGet reads an entry from tier 2, degrading to a miss on any
// backend failure.
func (c *Cache) sharedGet(ctx context.Context, key string) *Entry {
	if c.client == nil {
		return nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.degrade("get", err)
		}
		return nil
	}
	c.recover()

	var entry Entry
	if err := cbor.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		return nil
	}
	return &entry
}

// sharedSet writes an entry to tier 2 with the shared TTL, degrading to a
// no-op on failure.
func (c *Cache) sharedSet(ctx context.Context, key string, entry *Entry) {
	if c.client == nil {
		return
	}

	shared := *entry
	shared.ExpiresAt = entry.CreatedAt.Add(c.config.SharedTTL)
	data, err := cbor.Marshal(&shared)
	if err != nil {
		c.logger.Error("failed to encode cache entry", "key", key, "error", err)
		return
	}

	if err := c.client.Set(ctx, key, data, c.config.SharedTTL).Err(); err != nil {
		c.degrade("set", err)
		return
	}
	c.recover()
}

// sharedDelete removes a single tier-2 key, degrading to a no-op on
// failure (the TTL still bounds staleness).
func (c *Cache) sharedDelete(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.degrade("del", err)
		return
	}
	c.recover()
}

// sharedDeletePattern scans and deletes all tier-2 keys matching the
// pattern, degrading to a no-op on failure.
func (c *Cache) sharedDeletePattern(ctx context.Context, pattern string) {
	if c.client == nil {
		return
	}

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.degrade("scan", err)
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.degrade("del", err)
			return
		}
	}
	c.recover()
}

// degrade records a backend failure, logging the transition into degraded
// mode once rather than on every request.
func (c *Cache) degrade(op string, err error) {
	c.metrics.IncBackendError(op)
	if c.degraded.CompareAndSwap(false, true) {
		c.logger.Warn("cache backend unavailable, degrading to compute mode",
			"op", op,
			"error", err)
	}
}

// recover notes that the backend responded again.
func (c *Cache) recover() {
	if c.degraded.CompareAndSwap(true, false) {
		c.logger.Info("cache backend recovered")
	}
}

// LocalLen returns the tier-1 entry count, for tests and diagnostics.
func (c *Cache) LocalLen() int {
	return c.local.len()
}
