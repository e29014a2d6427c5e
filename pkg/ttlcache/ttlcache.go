// Package ttlcache implements a time-to-live cache.
//
// Entries expire a fixed duration after they are written; an expired entry
// is never returned, so a refreshed lookup always supersedes a stale hit.
//
// Features:
//   - O(1) Get, Set and Delete operations
//   - Generic types for key and value
//   - Injectable time source for deterministic tests
//
// Thread Safety: All methods are safe for concurrent access.
package ttlcache

import (
	"sync"
	"time"
)

// Config configures cache construction.
type Config struct {
	TTL time.Duration    // Entry lifetime (default: 5 minutes if <= 0)
	Now func() time.Time // Time source (default: time.Now)
}

// Cache is a generic TTL cache.
type Cache[K comparable, V any] struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[K]entry[V]
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// New creates a TTL cache from the given configuration.
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Cache[K, V]{
		ttl:   config.TTL,
		now:   config.Now,
		items: make(map[K]entry[V]),
	}
}

// Get retrieves a value by key. Expired entries are removed and reported as
// a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !item.expiresAt.After(c.now()) {
		c.mu.Lock()
		// Re-check under write lock: a concurrent Set may have refreshed it.
		if current, still := c.items[key]; still && !current.expiresAt.After(c.now()) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return item.value, true
}

// Set stores a value with the cache's TTL, replacing any previous entry.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes a key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Purge removes all expired entries. Intended for a periodic housekeeping
// goroutine; correctness does not depend on it.
func (c *Cache[K, V]) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, item := range c.items {
		if !item.expiresAt.After(now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}
