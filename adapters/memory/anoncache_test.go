package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/domain/ledger"
	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// countingAnonStore wraps AnonStore and counts backing reads.
type countingAnonStore struct {
	*AnonStore
	gets int
}

func (s *countingAnonStore) Get(ctx context.Context, anonID string) (ports.AnonUsage, error) {
	s.gets++
	return s.AnonStore.Get(ctx, anonID)
}

func TestAnonCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	backing := &countingAnonStore{AnonStore: NewAnonStore()}
	cache := NewAnonCache(backing)

	if err := backing.Create(ctx, "anon_01", now); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := cache.Get(ctx, "anon_01"); err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	if backing.gets != 1 {
		t.Errorf("backing reads = %d, want 1 (miss then cache hits)", backing.gets)
	}
}

func TestAnonCache_MissPropagatesNotFound(t *testing.T) {
	cache := NewAnonCache(NewAnonStore())
	if _, err := cache.Get(context.Background(), "anon_missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if cache.Len() != 0 {
		t.Error("a miss must not be cached")
	}
}

func TestAnonCache_IncrementWritesThrough(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	backing := NewAnonStore()
	cache := NewAnonCache(backing)

	row, err := cache.Increment(ctx, "anon_01", ledger.ModelPremium, now)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if row.PremiumCount != 1 {
		t.Errorf("PremiumCount = %d, want 1", row.PremiumCount)
	}

	// Durable store holds the authoritative row.
	stored, err := backing.Get(ctx, "anon_01")
	if err != nil {
		t.Fatalf("backing get: %v", err)
	}
	if stored.PremiumCount != 1 {
		t.Errorf("backing PremiumCount = %d, want 1", stored.PremiumCount)
	}

	// Cached copy serves subsequent reads without divergence.
	cached, err := cache.Get(ctx, "anon_01")
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if cached != stored {
		t.Errorf("cache diverged: %+v vs %+v", cached, stored)
	}
}

func TestAnonCache_CreateSeedsCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	backing := &countingAnonStore{AnonStore: NewAnonStore()}
	cache := NewAnonCache(backing)

	if err := cache.Create(ctx, "anon_01", now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := cache.Get(ctx, "anon_01"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if backing.gets != 0 {
		t.Errorf("backing reads = %d, want 0 after create seeded the cache", backing.gets)
	}
}

func TestAnonUsageTotal(t *testing.T) {
	row := ports.AnonUsage{QuickCount: 2, PremiumCount: 3}
	if got := row.Total(); got != 5 {
		t.Errorf("Total = %d, want 5", got)
	}
}
