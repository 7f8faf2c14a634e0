package resolver

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cache maps hostnames to tenant ids on the request path. In-process: a
// network round trip would eat the resolver's whole latency budget.
// Entries expire on a TTL; the registry invalidates a hostname
// synchronously whenever it commits a mutation for it, so a stale entry
// can never outlive an explicit invalidation.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	tenantID  uuid.UUID
	expiresAt time.Time
}

func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

func (c *Cache) Get(hostname string) (uuid.UUID, bool) {
	c.mu.RLock()
	entry, ok := c.entries[hostname]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return uuid.Nil, false
	}
	return entry.tenantID, true
}

func (c *Cache) Set(hostname string, tenantID uuid.UUID) {
	c.mu.Lock()
	c.entries[hostname] = cacheEntry{
		tenantID:  tenantID,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *Cache) Invalidate(hostname string) {
	c.mu.Lock()
	delete(c.entries, hostname)
	c.mu.Unlock()
}

// Purge drops every expired entry; called periodically so the map does
// not grow with long-gone hostnames.
func (c *Cache) Purge() {
	now := c.now()
	c.mu.Lock()
	for hostname, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, hostname)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
