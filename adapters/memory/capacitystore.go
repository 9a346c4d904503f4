// Package memory provides in-process implementations of storage ports and
// the guard state that is deliberately not durable: the global capacity
// counter, the per-IP abuse windows and the anonymous-usage cache. All
// state is explicitly owned and mutex-guarded; nothing here is a package-
// level variable.
package memory

import (
	"sync"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/domain/capacity"
)

// CapacityStore owns the single fixed-window global counter. It resets on
// process restart by design; the counter protects the shared upstream
// budget, not billing.
type CapacityStore struct {
	mu    sync.Mutex
	state capacity.State
}

// NewCapacityStore creates an empty capacity store.
func NewCapacityStore() *CapacityStore {
	return &CapacityStore{}
}

// Check runs the fixed-window check under the store's lock and persists the
// resulting state.
func (s *CapacityStore) Check(cfg capacity.Config, now time.Time) capacity.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, next := capacity.Check(s.state, cfg, now)
	s.state = next
	return result
}

// State returns a copy of the current window state (for testing and the
// capacity gauge).
func (s *CapacityStore) State() capacity.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset clears the window (for testing).
func (s *CapacityStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = capacity.State{}
}
