// Package cache defines the key-value collaborator contract used by the
// memory manager for best-effort state persistence, plus a process-local
// implementation. The consumers are agnostic to whether the backing store is
// in-process or remote (Redis, memcached); swap implementations at wiring
// time.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is the minimal key-value contract. Values are opaque byte slices;
// ttl <= 0 means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// InMemory is a process-local Cache with per-entry TTLs. Expired entries are
// dropped lazily on read and swept opportunistically on write, so the map
// does not grow unbounded under a churning key set.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewInMemory creates an empty in-process cache.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]entry)}
}

// Get implements Cache. A miss (absent or expired) returns ok=false.
func (c *InMemory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Cache, overwriting any existing value. The value is copied
// so later caller mutations cannot leak into the store.
func (c *InMemory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	e := entry{value: buf}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.sweepLocked()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete implements Cache. Deleting an absent key is a no-op.
func (c *InMemory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of live entries (expired entries may be counted
// until the next sweep).
func (c *InMemory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// sweepLocked removes expired entries. Caller holds the write lock. The scan
// is bounded to keep Set cheap on large caches.
func (c *InMemory) sweepLocked() {
	const maxScan = 64
	now := time.Now()
	scanned := 0
	for k, e := range c.entries {
		if scanned >= maxScan {
			return
		}
		scanned++
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
