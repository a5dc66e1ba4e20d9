// Package cache provides a small in-memory TTL cache used for Jira lookups
// that rarely change.
package cache

import (
	"sync"
	"time"
)

// Stats holds cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	MaxSize   int
	HitRate   float64
}

// MemoryCache is a size bounded cache with per item expiry. Expired items are
// dropped lazily on access and before evicting live ones.
type MemoryCache[V any] struct {
	mu      sync.Mutex
	data    map[string]*cacheItem[V]
	maxSize int
	ttl     time.Duration
	stats   Stats
	now     func() time.Time
}

type cacheItem[V any] struct {
	value       V
	expiresAt   time.Time
	createdAt   time.Time
	accessCount int64
}

// NewMemoryCache creates a cache holding at most maxSize items for ttl each
func NewMemoryCache[V any](maxSize int, ttl time.Duration) *MemoryCache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &MemoryCache[V]{
		data:    make(map[string]*cacheItem[V]),
		maxSize: maxSize,
		ttl:     ttl,
		stats:   Stats{MaxSize: maxSize},
		now:     time.Now,
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, exists := c.data[key]
	if !exists {
		c.stats.Misses++
		return zero, false
	}

	if c.now().After(item.expiresAt) {
		delete(c.data, key)
		c.stats.Size = len(c.data)
		c.stats.Misses++
		return zero, false
	}

	item.accessCount++
	c.stats.Hits++
	return item.value, true
}

// Set stores a value, evicting the least used item when full
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.removeExpired(now)
		if len(c.data) >= c.maxSize {
			c.evictLRU()
		}
	}

	c.data[key] = &cacheItem[V]{
		value:     value,
		expiresAt: now.Add(c.ttl),
		createdAt: now,
	}
	c.stats.Size = len(c.data)
}

// Delete removes a key from the cache
func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	c.stats.Size = len(c.data)
}

// Clear removes all items from the cache
func (c *MemoryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]*cacheItem[V])
	c.stats.Size = 0
}

// GetStats returns a snapshot of the cache statistics
func (c *MemoryCache[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *MemoryCache[V]) removeExpired(now time.Time) {
	for key, item := range c.data {
		if now.After(item.expiresAt) {
			delete(c.data, key)
			c.stats.Evictions++
		}
	}
}

// evictLRU removes the least accessed item, oldest first on ties
func (c *MemoryCache[V]) evictLRU() {
	var (
		oldestKey    string
		oldestTime   time.Time
		lowestAccess int64 = -1
	)

	for key, item := range c.data {
		if lowestAccess == -1 || item.accessCount < lowestAccess {
			oldestKey = key
			lowestAccess = item.accessCount
			oldestTime = item.createdAt
		} else if item.accessCount == lowestAccess && item.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.createdAt
		}
	}

	if oldestKey != "" {
		delete(c.data, oldestKey)
		c.stats.Evictions++
	}
}
