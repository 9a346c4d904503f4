package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// AdminSessionStore is an in-memory ports.AdminSessionStore for tests and
// local development.
type AdminSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]ports.AdminSession
}

// NewAdminSessionStore creates an empty in-memory session store.
func NewAdminSessionStore() *AdminSessionStore {
	return &AdminSessionStore{sessions: make(map[string]ports.AdminSession)}
}

// Create stores a new session.
func (s *AdminSessionStore) Create(ctx context.Context, session ports.AdminSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Token] = session
	return nil
}

// IsValid reports whether the credential maps to a live session.
func (s *AdminSessionStore) IsValid(ctx context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[token]
	if !ok {
		return false, nil
	}
	return time.Now().Before(session.ExpiresAt), nil
}

// Delete revokes a session.
func (s *AdminSessionStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// DeleteExpired removes lapsed sessions.
func (s *AdminSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

// Ensure interface compliance.
var _ ports.AdminSessionStore = (*AdminSessionStore)(nil)
