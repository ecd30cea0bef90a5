// ABOUTME: Thread-safe TTL cache of recently seen keys, backed by an expiring LRU.
// ABOUTME: Used by the relay to tell duplicate replies apart from unknown ones.

package dedupe

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache tracks seen keys. Entries expire after the TTL and the oldest entry
// is evicted once maxSize keys are held.
type Cache struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// New creates a dedupe cache with the specified TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl),
	}
}

// Check returns true if the key has been seen and is not expired.
func (c *Cache) Check(key string) bool {
	_, ok := c.seen.Peek(key)
	return ok
}

// Mark records that a key has been seen, refreshing its TTL.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen.Add(key, struct{}{})
}

// Len returns the number of keys currently held.
func (c *Cache) Len() int {
	return c.seen.Len()
}

// Close forgets every key. It is safe to call multiple times.
func (c *Cache) Close() {
	c.seen.Purge()
}
