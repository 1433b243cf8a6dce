package cache

import (
	"context"
	"sync"
	"time"

	"privata/pkg/platform/sentinel"
)

type cachedValue struct {
	value     []byte
	expiresAt time.Time
}

// InMemoryCache is a process-local TTL cache.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedValue
	now     func() time.Time
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[string]cachedValue), now: time.Now}
}

// Get returns sentinel.ErrNotFound on a miss or after expiry.
func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !c.now().Before(cached.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(cached.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), cached.value...), nil
}

func (c *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedValue{value: append([]byte(nil), value...), expiresAt: c.now().Add(ttl)}
	return nil
}

// Invalidate removes key. Removing an absent key is not an error.
func (c *InMemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
