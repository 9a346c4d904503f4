package memory

import (
	"context"
	"sync"

	"time"

	"github.com/pizzacorruption/trumpswap-sub001/domain/ledger"
	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// AnonCache is a read-through, write-through cache in front of a durable
// ports.AnonUsageStore, keyed by anonymous id. It avoids a storage
// round-trip on every request. Entries never expire proactively; they are
// only replaced by writes, since staleness would only matter in a
// multi-process deployment this design does not target.
type AnonCache struct {
	backing ports.AnonUsageStore

	mu      sync.RWMutex
	entries map[string]ports.AnonUsage
}

// NewAnonCache wraps a durable anon-usage store with an in-process cache.
func NewAnonCache(backing ports.AnonUsageStore) *AnonCache {
	return &AnonCache{
		backing: backing,
		entries: make(map[string]ports.AnonUsage),
	}
}

// Get returns cached usage, falling back to the backing store on miss and
// caching the result.
func (c *AnonCache) Get(ctx context.Context, anonID string) (ports.AnonUsage, error) {
	c.mu.RLock()
	entry, ok := c.entries[anonID]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	entry, err := c.backing.Get(ctx, anonID)
	if err != nil {
		return ports.AnonUsage{}, err
	}
	c.mu.Lock()
	c.entries[anonID] = entry
	c.mu.Unlock()
	return entry, nil
}

// Create writes through to the backing store and seeds the cache.
func (c *AnonCache) Create(ctx context.Context, anonID string, now time.Time) error {
	if err := c.backing.Create(ctx, anonID, now); err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[anonID] = ports.AnonUsage{AnonID: anonID, FirstSeen: now, LastSeen: now}
	c.mu.Unlock()
	return nil
}

// Increment writes through to the backing store's atomic increment and
// replaces the cached entry with the authoritative result.
func (c *AnonCache) Increment(ctx context.Context, anonID string, model ledger.ModelType, now time.Time) (ports.AnonUsage, error) {
	entry, err := c.backing.Increment(ctx, anonID, model, now)
	if err != nil {
		return ports.AnonUsage{}, err
	}
	c.mu.Lock()
	c.entries[anonID] = entry
	c.mu.Unlock()
	return entry, nil
}

// Len returns the number of cached entries (for testing).
func (c *AnonCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Ensure interface compliance.
var _ ports.AnonUsageStore = (*AnonCache)(nil)
