package feedcache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// localCache is the process-local tier-1 cache. Entries are immutable once
// written (replace-not-mutate), so concurrent readers need no coordination
// beyond the map lock.
type localCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int
}

// newLocalCache creates a bounded tier-1 cache.
func newLocalCache(maxEntries int) *localCache {
	return &localCache{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

// get returns a live entry or nil. Expired entries are dropped on read.
func (c *localCache) get(key string, now time.Time) *Entry {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil
	}
	if now.After(entry.ExpiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a fresh entry may have replaced
		// the expired one.
		if current, ok := c.entries[key]; ok && now.After(current.ExpiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil
	}

	return entry
}

// set stores an entry, evicting the oldest ~10% of entries when the cache
// is full. Returns the number of evicted entries.
func (c *localCache) set(key string, entry *Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		evicted = c.evictOldestLocked()
	}

	c.entries[key] = entry
	return evicted
}

// delete removes a single entry.
func (c *localCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// deletePrefix removes every entry whose key starts with prefix. Used for
// viewer-wide invalidation across all feed types.
func (c *localCache) deletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// len returns the current entry count.
func (c *localCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldestLocked removes the oldest ~10% of entries by creation time.
// Caller must hold the write lock.
func (c *localCache) evictOldestLocked() int {
	count := len(c.entries) / 10
	if count < 1 {
		count = 1
	}

	type aged struct {
		key       string
		createdAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, entry := range c.entries {
		all = append(all, aged{key: key, createdAt: entry.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].createdAt.Before(all[j].createdAt)
	})

	for i := 0; i < count && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
	return count
}
