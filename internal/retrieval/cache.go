package retrieval

import (
	"sync"
	"time"
)

// DefaultCacheTTL matches the upstream refresh cadence.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry[T any] struct {
	value    T
	storedAt time.Time
}

// Cache is a process-local TTL store. Expired entries read as misses and
// stay in the map until overwritten or cleared.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[T]
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache. now may be nil.
func NewCache[T any](ttl time.Duration, now func() time.Time) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache[T]{
		entries: make(map[string]cacheEntry[T]),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the value and its insertion time if present and younger than the TTL.
func (c *Cache[T]) Get(key string) (T, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	entry, ok := c.entries[key]
	if !ok {
		return zero, time.Time{}, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		return zero, time.Time{}, false
	}
	return entry.value, entry.storedAt, true
}

// Put overwrites key and stamps it with the current time.
func (c *Cache[T]) Put(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[T]{value: value, storedAt: c.now()}
}

func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry[T])
}

// Len counts entries that are still valid.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Sub(e.storedAt) < c.ttl {
			n++
		}
	}
	return n
}

func (c *Cache[T]) TTL() time.Duration { return c.ttl }
