package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/domain/ledger"
	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// AnonStore implements ports.AnonUsageStore on SQLite. Increment is a
// single upsert, so concurrent requests for the same anonymous id serialize
// at the database.
type AnonStore struct {
	db *DB
}

// NewAnonStore creates an anon usage store.
func NewAnonStore(db *DB) *AnonStore {
	return &AnonStore{db: db}
}

// Get retrieves usage for an anon id.
func (s *AnonStore) Get(ctx context.Context, anonID string) (ports.AnonUsage, error) {
	var a ports.AnonUsage
	err := s.db.QueryRowContext(ctx, `
		SELECT anon_id, quick_count, premium_count, first_seen, last_seen
		FROM anon_usage WHERE anon_id = ?`, anonID).
		Scan(&a.AnonID, &a.QuickCount, &a.PremiumCount, &a.FirstSeen, &a.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.AnonUsage{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.AnonUsage{}, fmt.Errorf("get anon usage: %w", err)
	}
	return a, nil
}

// Create stores a zeroed row for a freshly minted id. Creating an id that
// already exists is a no-op.
func (s *AnonStore) Create(ctx context.Context, anonID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anon_usage (anon_id, quick_count, premium_count, first_seen, last_seen)
		VALUES (?, 0, 0, ?, ?)
		ON CONFLICT(anon_id) DO NOTHING`, anonID, now, now)
	if err != nil {
		return fmt.Errorf("create anon usage: %w", err)
	}
	return nil
}

// Increment atomically bumps the counter for the model type and returns the
// resulting row, creating it if needed.
func (s *AnonStore) Increment(ctx context.Context, anonID string, model ledger.ModelType, now time.Time) (ports.AnonUsage, error) {
	quick, premium := int64(1), int64(0)
	if model == ledger.ModelPremium {
		quick, premium = 0, 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anon_usage (anon_id, quick_count, premium_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(anon_id) DO UPDATE SET
			quick_count   = quick_count + excluded.quick_count,
			premium_count = premium_count + excluded.premium_count,
			last_seen     = excluded.last_seen`,
		anonID, quick, premium, now, now)
	if err != nil {
		return ports.AnonUsage{}, fmt.Errorf("increment anon usage: %w", err)
	}
	return s.Get(ctx, anonID)
}

// Ensure interface compliance.
var _ ports.AnonUsageStore = (*AnonStore)(nil)
