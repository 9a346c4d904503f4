// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/domain/ledger"
)

// Sentinel errors shared by store implementations.
var (
	// ErrNotFound is returned when a profile, anon record or session does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCredits is returned when an atomic debit would drive
	// the balance negative. Debits are rejected, never clamped.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
	// String generates a random string of n characters.
	String(n int) (string, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// Profile is the cached mirror of a user row owned by the external
// auth/profile backend. The ledger treats it as possibly stale and always
// accepts a fresher copy passed in by the caller.
type Profile struct {
	UserID             string
	Email              string
	SubscriptionStatus string // "", "active", "trialing", "cancelled"
	Usage              ledger.Record
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProfileStore persists authenticated-user profiles and counters.
//
// ApplyUsage and credit mutations must be atomic at the storage layer: the
// in-process arithmetic only computes what delta to apply, the store applies
// it in a single conditional statement. There is deliberately no non-atomic
// fallback.
type ProfileStore interface {
	// Get retrieves a profile by user id. ErrNotFound if absent.
	Get(ctx context.Context, userID string) (Profile, error)

	// Create stores a new profile. Used for lazy creation on first
	// observation of an authenticated user.
	Create(ctx context.Context, p Profile) error

	// Update overwrites mutable profile fields (subscription status).
	Update(ctx context.Context, p Profile) error

	// ApplyUsage atomically applies a commit delta to the stored counters
	// and returns the resulting record. A delta with a credit debit fails
	// with ErrInsufficientCredits when the balance cannot cover it.
	ApplyUsage(ctx context.Context, userID string, delta ledger.Delta) (ledger.Record, error)

	// AddCredits atomically increments the credit balance (payment
	// reconciliation path) and returns the new balance.
	AddCredits(ctx context.Context, userID string, amount int64) (int64, error)
}

// AnonUsage is the durable per-anonymous-id counter row.
type AnonUsage struct {
	AnonID       string
	QuickCount   int64
	PremiumCount int64
	FirstSeen    time.Time
	LastSeen     time.Time
}

// Total returns the lifetime generation count for the anonymous id.
func (a AnonUsage) Total() int64 {
	return a.QuickCount + a.PremiumCount
}

// AnonUsageStore persists anonymous usage keyed by anonymous id.
type AnonUsageStore interface {
	// Get retrieves usage for an anon id. ErrNotFound if absent.
	Get(ctx context.Context, anonID string) (AnonUsage, error)

	// Create stores a zeroed row for a freshly minted id.
	Create(ctx context.Context, anonID string, now time.Time) error

	// Increment atomically bumps the counter for the model type and
	// returns the resulting row, creating it if needed.
	Increment(ctx context.Context, anonID string, model ledger.ModelType, now time.Time) (AnonUsage, error)
}

// AdminSession is a server-held privileged session.
type AdminSession struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AdminSessionStore persists admin sessions and validates presented
// credentials.
type AdminSessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, s AdminSession) error

	// IsValid reports whether the credential maps to a live session.
	IsValid(ctx context.Context, token string) (bool, error)

	// Delete revokes a session.
	Delete(ctx context.Context, token string) error

	// DeleteExpired removes lapsed sessions.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// AuthVerifier validates bearer tokens against the external auth backend.
type AuthVerifier interface {
	// VerifyToken returns the authenticated user id for a token, or
	// ErrNotFound when the token does not map to a user.
	VerifyToken(ctx context.Context, token string) (userID string, err error)
}

// GenerateRequest is the payload forwarded to the image-generation API.
// Admission only cares about the model class; the rest is opaque.
type GenerateRequest struct {
	Model      ledger.ModelType
	PhotoURL   string
	TemplateID string
	TraceID    string
}

// GenerateResult is the outcome of a generation call.
type GenerateResult struct {
	ImageURL  string
	LatencyMs int64
}

// Generator is the metered upstream image-generation API. A returned error
// means the operation failed and must not be charged.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}
