// Package cache provides a small bounded TTL cache used to memoize
// lookups against upstream metadata endpoints.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value   string
	addedAt time.Time
}

// TTL is a bounded string cache with per-entry expiry. When the cache is
// full, inserting a new key evicts the oldest entry. Safe for concurrent use.
type TTL struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

func NewTTL(maxEntries int, ttl time.Duration) *TTL {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TTL{
		entries:    make(map[string]entry, maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached value for key. Expired entries are removed and
// reported as missing.
func (c *TTL) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.addedAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

// Set stores value under key, evicting the oldest entry when full.
func (c *TTL) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{value: value, addedAt: c.now()}
}

func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTL) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.addedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.addedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
