package memory

import (
	"sync"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/domain/abuse"
)

// AbuseStore owns the per-source-IP sliding windows. Ephemeral by design:
// the windows bound scripted abuse within a process lifetime, they are not
// an audit trail.
type AbuseStore struct {
	mu      sync.Mutex
	windows map[string]abuse.Window
}

// NewAbuseStore creates an empty abuse store.
func NewAbuseStore() *AbuseStore {
	return &AbuseStore{windows: make(map[string]abuse.Window)}
}

// Check records one attempt for ip and evaluates the threshold. Pruning to
// the GC horizon happens inside the same write, so memory stays bounded
// without a background sweep; fully lapsed entries are evicted here too.
func (s *AbuseStore) Check(ip string, cfg abuse.Config, now time.Time) abuse.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, next := abuse.Check(s.windows[ip], cfg, now)
	s.windows[ip] = next
	return result
}

// Sweep evicts windows with no timestamps inside the GC horizon. Called
// opportunistically; correctness does not depend on it since Check prunes
// per entry on every write.
func (s *AbuseStore) Sweep(cfg abuse.Config, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for ip, w := range s.windows {
		if abuse.Empty(w, cfg, now) {
			delete(s.windows, ip)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked source IPs (for testing and metrics).
func (s *AbuseStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
