package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/domain/ledger"
	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// AnonStore is an in-memory ports.AnonUsageStore for tests and local
// development.
type AnonStore struct {
	mu   sync.RWMutex
	rows map[string]ports.AnonUsage
}

// NewAnonStore creates an empty in-memory anon usage store.
func NewAnonStore() *AnonStore {
	return &AnonStore{rows: make(map[string]ports.AnonUsage)}
}

// Get retrieves usage for an anon id.
func (s *AnonStore) Get(ctx context.Context, anonID string) (ports.AnonUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[anonID]
	if !ok {
		return ports.AnonUsage{}, ports.ErrNotFound
	}
	return row, nil
}

// Create stores a zeroed row for a freshly minted id.
func (s *AnonStore) Create(ctx context.Context, anonID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[anonID]; ok {
		return nil
	}
	s.rows[anonID] = ports.AnonUsage{AnonID: anonID, FirstSeen: now, LastSeen: now}
	return nil
}

// Increment bumps the counter for the model type under the store lock,
// creating the row if needed.
func (s *AnonStore) Increment(ctx context.Context, anonID string, model ledger.ModelType, now time.Time) (ports.AnonUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[anonID]
	if !ok {
		row = ports.AnonUsage{AnonID: anonID, FirstSeen: now}
	}
	switch model {
	case ledger.ModelPremium:
		row.PremiumCount++
	default:
		row.QuickCount++
	}
	row.LastSeen = now
	s.rows[anonID] = row
	return row, nil
}

// Ensure interface compliance.
var _ ports.AnonUsageStore = (*AnonStore)(nil)
