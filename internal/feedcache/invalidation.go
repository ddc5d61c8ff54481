package feedcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// invalidationEvent is the pub/sub payload broadcast when a viewer's
// cached pages are invalidated. Instances use it to drop matching tier-1
// entries ahead of TTL expiry.
type invalidationEvent struct {
	Origin    string    `json:"origin"`
	ViewerID  string    `json:"viewer_id"`
	FeedTypes []string  `json:"feed_types,omitempty"`
	At        time.Time `json:"at"`
}

// newInstanceID generates the identity this instance stamps on its own
// invalidation events so it can skip them on receipt.
func newInstanceID() string {
	return uuid.New().String()
}

// invalidationTracker records the most recent invalidation time per viewer
// and per (viewer, feed type). Tier-1 entries created before the relevant
// timestamp are stale even if their TTL has not elapsed, bridging the gap
// between instant local invalidation and eventual tier-2 TTL expiry.
type invalidationTracker struct {
	mu       sync.RWMutex
	byViewer map[string]time.Time // viewer-wide invalidations
	byFeed   map[string]time.Time // keyed viewerID + "\x00" + feedType

	// Invalidation generations. Every recorded invalidation bumps the
	// relevant counter; tier-1 entries capture the pair's generation when
	// stored and are stale the moment it moves, with no clock comparison.
	genByViewer map[string]uint64
	genByFeed   map[string]uint64
}

func newInvalidationTracker() *invalidationTracker {
	return &invalidationTracker{
		byViewer:    make(map[string]time.Time),
		byFeed:      make(map[string]time.Time),
		genByViewer: make(map[string]uint64),
		genByFeed:   make(map[string]uint64),
	}
}

// record stores an invalidation timestamp and bumps the matching
// generation. Empty feedTypes marks the whole viewer invalid.
func (t *invalidationTracker) record(viewerID string, feedTypes []string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(feedTypes) == 0 {
		if at.After(t.byViewer[viewerID]) {
			t.byViewer[viewerID] = at
		}
		t.genByViewer[viewerID]++
		return
	}
	for _, ft := range feedTypes {
		key := viewerID + "\x00" + ft
		if at.After(t.byFeed[key]) {
			t.byFeed[key] = at
		}
		t.genByFeed[key]++
	}
}

// generationFor returns the current invalidation generation for a
// (viewer, feed type) pair. Viewer-wide and feed-scoped invalidations
// both advance it.
func (t *invalidationTracker) generationFor(viewerID, feedType string) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.genByViewer[viewerID] + t.genByFeed[viewerID+"\x00"+feedType]
}

// staleAt reports whether an entry created at createdAt for the given
// (viewer, feed type) predates the most recent invalidation.
func (t *invalidationTracker) staleAt(viewerID, feedType string, createdAt time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if ts, ok := t.byViewer[viewerID]; ok && createdAt.Before(ts) {
		return true
	}
	if ts, ok := t.byFeed[viewerID+"\x00"+feedType]; ok && createdAt.Before(ts) {
		return true
	}
	return false
}

// publish broadcasts an invalidation event. Fire and forget: a publish
// failure degrades other instances to TTL-only invalidation and is logged
// through the degraded-mode path, never returned.
func (c *Cache) publish(ctx context.Context, event invalidationEvent) {
	if c.client == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("failed to encode invalidation event", "error", err)
		return
	}

	if err := c.client.Publish(ctx, c.config.Channel, payload).Err(); err != nil {
		c.degrade("publish", err)
		return
	}
	c.recover()
}

// Subscribe starts the background listener that applies invalidation
// events from other instances to the local tier-1 cache. Safe to call
// once per Cache; a nil Redis client makes it a no-op. Stop with Close.
func (c *Cache) Subscribe(ctx context.Context) {
	if c.client == nil || c.subDone != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.subCancel = cancel
	c.subDone = make(chan struct{})

	pubsub := c.client.Subscribe(ctx, c.config.Channel)
	go func() {
		defer close(c.subDone)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.handleInvalidation([]byte(msg.Payload))
			}
		}
	}()
}

// handleInvalidation applies a broadcast invalidation to local state.
// Events from this instance are skipped; the local tier was already
// cleared synchronously.
func (c *Cache) handleInvalidation(payload []byte) {
	var event invalidationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Warn("dropping malformed invalidation event", "error", err)
		return
	}
	if event.Origin == c.instanceID || event.ViewerID == "" {
		return
	}

	c.tracker.record(event.ViewerID, event.FeedTypes, event.At)
	if len(event.FeedTypes) == 0 {
		c.local.deletePrefix(cacheKeyPrefix + event.ViewerID + ":")
	} else {
		for _, ft := range event.FeedTypes {
			c.local.delete(cacheKey(event.ViewerID, ft))
		}
	}
	c.metrics.IncInvalidation(SourceRemote)
}

// Close stops the invalidation subscriber if one is running.
func (c *Cache) Close() {
	if c.subCancel != nil {
		c.subCancel()
		<-c.subDone
		c.subCancel = nil
		c.subDone = nil
	}
}
