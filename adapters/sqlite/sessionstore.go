package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// AdminSessionStore implements ports.AdminSessionStore on SQLite.
type AdminSessionStore struct {
	db *DB
}

// NewAdminSessionStore creates an admin session store.
func NewAdminSessionStore(db *DB) *AdminSessionStore {
	return &AdminSessionStore{db: db}
}

// Create stores a new session.
func (s *AdminSessionStore) Create(ctx context.Context, session ports.AdminSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_sessions (token, created_at, expires_at)
		VALUES (?, ?, ?)`,
		session.Token, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create admin session: %w", err)
	}
	return nil
}

// IsValid reports whether the credential maps to a live session.
func (s *AdminSessionStore) IsValid(ctx context.Context, token string) (bool, error) {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT expires_at FROM admin_sessions WHERE token = ?", token).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup admin session: %w", err)
	}
	return time.Now().Before(expiresAt), nil
}

// Delete revokes a session.
func (s *AdminSessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM admin_sessions WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("delete admin session: %w", err)
	}
	return nil
}

// DeleteExpired removes lapsed sessions.
func (s *AdminSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM admin_sessions WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// Ensure interface compliance.
var _ ports.AdminSessionStore = (*AdminSessionStore)(nil)
