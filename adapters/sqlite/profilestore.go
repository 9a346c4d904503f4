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

// ProfileStore implements ports.ProfileStore on SQLite.
//
// Counter mutations are single conditional UPDATE statements, so two
// concurrent commits for the same user serialize at the database and the
// credit balance can never go negative regardless of interleaving. This is
// the authoritative increment the in-process arithmetic defers to.
type ProfileStore struct {
	db *DB
}

// NewProfileStore creates a profile store.
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Get retrieves a profile by user id.
func (s *ProfileStore) Get(ctx context.Context, userID string) (ports.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, subscription_status,
		       lifetime_count, monthly_count, monthly_reset_at,
		       credit_balance, quick_count, premium_count,
		       created_at, updated_at
		FROM profiles WHERE user_id = ?`, userID)
	return scanProfile(row)
}

// Create stores a new profile.
func (s *ProfileStore) Create(ctx context.Context, p ports.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (
			user_id, email, subscription_status,
			lifetime_count, monthly_count, monthly_reset_at,
			credit_balance, quick_count, premium_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Email, p.SubscriptionStatus,
		p.Usage.LifetimeCount, p.Usage.MonthlyCount, nullableTime(p.Usage.MonthlyResetAt),
		p.Usage.CreditBalance, p.Usage.QuickCount, p.Usage.PremiumCount,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// Update overwrites mutable profile fields.
func (s *ProfileStore) Update(ctx context.Context, p ports.Profile) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET email = ?, subscription_status = ?, updated_at = ?
		WHERE user_id = ?`,
		p.Email, p.SubscriptionStatus, p.UpdatedAt, p.UserID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// ApplyUsage atomically applies a commit delta to the stored counters. The
// WHERE clause rejects the whole update when the balance cannot cover the
// debit; the delta is never partially applied.
func (s *ProfileStore) ApplyUsage(ctx context.Context, userID string, delta ledger.Delta) (ledger.Record, error) {
	resetFlag := 0
	if delta.ResetApplied {
		resetFlag = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET
			lifetime_count   = lifetime_count + ?,
			monthly_count    = (CASE WHEN ? THEN 0 ELSE monthly_count END) + ?,
			monthly_reset_at = COALESCE(?, monthly_reset_at),
			credit_balance   = credit_balance - ?,
			quick_count      = quick_count + ?,
			premium_count    = premium_count + ?,
			updated_at       = CURRENT_TIMESTAMP
		WHERE user_id = ? AND credit_balance >= ?`,
		delta.Lifetime, resetFlag, delta.Monthly,
		nullableTime(delta.NewResetAt),
		delta.CreditDebit, delta.Quick, delta.Premium,
		userID, delta.CreditDebit)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("apply usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Record{}, fmt.Errorf("apply usage: %w", err)
	}
	if n == 0 {
		// Distinguish a missing row from an unaffordable debit.
		if _, getErr := s.Get(ctx, userID); errors.Is(getErr, ports.ErrNotFound) {
			return ledger.Record{}, ports.ErrNotFound
		}
		return ledger.Record{}, ports.ErrInsufficientCredits
	}

	p, err := s.Get(ctx, userID)
	if err != nil {
		return ledger.Record{}, err
	}
	return p.Usage, nil
}

// AddCredits atomically increments the credit balance.
func (s *ProfileStore) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET credit_balance = credit_balance + ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?`, amount, userID)
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	if n == 0 {
		return 0, ports.ErrNotFound
	}

	var balance int64
	err = s.db.QueryRowContext(ctx,
		"SELECT credit_balance FROM profiles WHERE user_id = ?", userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func scanProfile(row *sql.Row) (ports.Profile, error) {
	var p ports.Profile
	var resetAt sql.NullTime
	err := row.Scan(
		&p.UserID, &p.Email, &p.SubscriptionStatus,
		&p.Usage.LifetimeCount, &p.Usage.MonthlyCount, &resetAt,
		&p.Usage.CreditBalance, &p.Usage.QuickCount, &p.Usage.PremiumCount,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Profile{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	if resetAt.Valid {
		p.Usage.MonthlyResetAt = resetAt.Time
	}
	return p, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// Ensure interface compliance.
var _ ports.ProfileStore = (*ProfileStore)(nil)
