package util

import (
	"sync"
	"time"
)

// ResponseCache memoizes expensive, idempotent target lookups (an
// authenticated profile fetch, a holdings snapshot). Entries expire after a
// fixed TTL and the cache holds at most maxSize entries, evicting the single
// oldest entry on overflow. Stale reads up to the TTL are the only
// consistency guarantee; this is not a correctness-critical cache.
type ResponseCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value      any
	insertedAt time.Time
}

// NewResponseCache creates a cache bounded by maxSize entries with the given
// per-entry TTL.
func NewResponseCache(maxSize int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached value for key. An entry older than the TTL is
// removed and reported as absent.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, evicting the single oldest entry first when the
// cache is at capacity.
func (c *ResponseCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.insertedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.insertedAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[key] = cacheEntry{value: value, insertedAt: time.Now()}
}

// Clear empties the cache.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of entries currently stored, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
