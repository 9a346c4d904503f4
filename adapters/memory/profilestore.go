package memory

import (
	"context"
	"sync"

	"github.com/pizzacorruption/trumpswap-sub001/domain/ledger"
	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// ProfileStore is an in-memory ports.ProfileStore for tests and local
// development. Mutations happen under one lock, which gives the same
// atomicity the sqlite store gets from conditional single-statement updates.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]ports.Profile
}

// NewProfileStore creates an empty in-memory profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]ports.Profile)}
}

// Get retrieves a profile by user id.
func (s *ProfileStore) Get(ctx context.Context, userID string) (ports.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return ports.Profile{}, ports.ErrNotFound
	}
	return p, nil
}

// Create stores a new profile.
func (s *ProfileStore) Create(ctx context.Context, p ports.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

// Update overwrites a profile.
func (s *ProfileStore) Update(ctx context.Context, p ports.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.UserID]; !ok {
		return ports.ErrNotFound
	}
	s.profiles[p.UserID] = p
	return nil
}

// ApplyUsage atomically applies a commit delta to the stored counters.
func (s *ProfileStore) ApplyUsage(ctx context.Context, userID string, delta ledger.Delta) (ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return ledger.Record{}, ports.ErrNotFound
	}
	if delta.CreditDebit > p.Usage.CreditBalance {
		return ledger.Record{}, ports.ErrInsufficientCredits
	}
	if delta.ResetApplied {
		p.Usage.MonthlyCount = 0
	}
	if !delta.NewResetAt.IsZero() {
		p.Usage.MonthlyResetAt = delta.NewResetAt
	}
	p.Usage.LifetimeCount += delta.Lifetime
	p.Usage.MonthlyCount += delta.Monthly
	p.Usage.CreditBalance -= delta.CreditDebit
	p.Usage.QuickCount += delta.Quick
	p.Usage.PremiumCount += delta.Premium
	s.profiles[userID] = p
	return p.Usage, nil
}

// AddCredits atomically increments the credit balance.
func (s *ProfileStore) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return 0, ports.ErrNotFound
	}
	p.Usage.CreditBalance += amount
	s.profiles[userID] = p
	return p.Usage.CreditBalance, nil
}

// Ensure interface compliance.
var _ ports.ProfileStore = (*ProfileStore)(nil)
