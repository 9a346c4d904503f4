// Package ledger provides pure usage-metering arithmetic.
// All functions are deterministic - same input always produces same output.
// The ledger computes what delta to apply; persistence is the caller's job,
// so the same arithmetic can sit in front of an atomic store primitive or a
// plain read-modify-write without change.
package ledger

import (
	"fmt"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/domain/tier"
)

// ModelType classifies the requested generation by cost class.
type ModelType int

const (
	ModelQuick ModelType = iota
	ModelPremium
)

// Credit costs per model type once the free allotment is exhausted.
const (
	CreditCostQuick   int64 = 1
	CreditCostPremium int64 = 2
)

// String returns the wire identifier of the model type.
func (m ModelType) String() string {
	switch m {
	case ModelQuick:
		return "quick"
	case ModelPremium:
		return "premium"
	default:
		panic(fmt.Sprintf("ledger: unknown model type %d", int(m)))
	}
}

// ParseModel converts a wire identifier to a ModelType.
func ParseModel(s string) (ModelType, bool) {
	switch s {
	case "quick", "":
		return ModelQuick, true
	case "premium":
		return ModelPremium, true
	default:
		return ModelQuick, false
	}
}

// CreditCost returns the credit price of one generation of the model type.
func CreditCost(m ModelType) int64 {
	switch m {
	case ModelQuick:
		return CreditCostQuick
	case ModelPremium:
		return CreditCostPremium
	default:
		panic(fmt.Sprintf("ledger: unknown model type %d", int(m)))
	}
}

// Record holds the per-identity counters (value type). The zero value is a
// fresh identity that has never generated anything.
type Record struct {
	LifetimeCount  int64
	MonthlyCount   int64
	MonthlyResetAt time.Time // zero = no period started yet
	CreditBalance  int64
	QuickCount     int64
	PremiumCount   int64
}

// PaymentKind says how an admitted generation is paid for.
type PaymentKind int

const (
	PayFreeCount PaymentKind = iota
	PayCredit
)

// String returns the wire identifier of the payment kind.
func (k PaymentKind) String() string {
	switch k {
	case PayFreeCount:
		return "freeCount"
	case PayCredit:
		return "credit"
	default:
		panic(fmt.Sprintf("ledger: unknown payment kind %d", int(k)))
	}
}

// Payment records exactly how an operation would be paid, so commit can
// apply the same classification instead of guessing.
type Payment struct {
	Kind       PaymentKind
	CreditCost int64 // 0 for PayFreeCount
}

// Decision is the outcome of Evaluate (value type).
type Decision struct {
	Allowed   bool
	Tier      tier.Tier
	Used      int64
	Limit     int64 // tier.Unlimited (-1) for unbounded tiers
	Remaining int64 // tier.Unlimited (-1) for unbounded tiers
	ResetAt   time.Time
	Payment   Payment
}

// Delta describes the counter changes a commit produced. The persistence
// layer applies it, atomically where the store supports it.
type Delta struct {
	Lifetime     int64
	Monthly      int64
	CreditDebit  int64 // amount to subtract from the balance
	Quick        int64
	Premium      int64
	ResetApplied bool      // monthly counters were zeroed first
	NewResetAt   time.Time // set when ResetApplied or no period existed
}

// NextResetAt returns the monthly reset boundary derived from now: the
// first instant of the next calendar month, UTC. Deriving from "now" rather
// than from the old boundary makes concurrent lazy resets idempotent.
func NextResetAt(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// ResetDue reports whether the record's monthly window has lapsed at now.
func ResetDue(rec Record, now time.Time) bool {
	return !rec.MonthlyResetAt.IsZero() && now.After(rec.MonthlyResetAt)
}

// ApplyReset returns the record as seen after any due lazy reset.
// Idempotent: applying it twice at the same instant changes nothing more.
func ApplyReset(rec Record, now time.Time) Record {
	if !ResetDue(rec, now) {
		return rec
	}
	rec.MonthlyCount = 0
	rec.MonthlyResetAt = NextResetAt(now)
	return rec
}

// Evaluate decides whether one generation of the given model type may
// proceed for an identity on the given tier. This is a PURE function; it
// never mutates the record. The caller passes the freshest snapshot it has.
func Evaluate(rec Record, t tier.Tier, model ModelType, limits tier.Limits, now time.Time) Decision {
	policy := tier.Lookup(t, limits)

	if policy.MonthlyLimit == tier.Unlimited {
		return Decision{
			Allowed:   true,
			Tier:      t,
			Used:      rec.MonthlyCount,
			Limit:     tier.Unlimited,
			Remaining: tier.Unlimited,
			Payment:   Payment{Kind: PayFreeCount},
		}
	}

	rec = ApplyReset(rec, now)
	resetAt := rec.MonthlyResetAt
	if resetAt.IsZero() {
		resetAt = NextResetAt(now)
	}

	d := Decision{
		Tier:    t,
		Used:    rec.MonthlyCount,
		Limit:   policy.MonthlyLimit,
		ResetAt: resetAt,
	}
	d.Remaining = policy.MonthlyLimit - rec.MonthlyCount
	if d.Remaining < 0 {
		d.Remaining = 0
	}

	// Free allotment first, even when credits are also available.
	if rec.MonthlyCount < policy.MonthlyLimit {
		d.Allowed = true
		d.Payment = Payment{Kind: PayFreeCount}
		return d
	}

	cost := CreditCost(model)
	if rec.CreditBalance >= cost {
		d.Allowed = true
		d.Payment = Payment{Kind: PayCredit, CreditCost: cost}
		return d
	}

	return d
}

// Commit produces the post-success counter state for one generation. It is
// invoked only after the downstream operation confirmed success. The payment
// classification is recomputed fresh from the record passed in, since the
// profile may have changed between pre-check and commit; the pre-check
// decision only gated entry, it does not fix the price.
//
// If the record can no longer afford a credit debit at commit time the
// operation is charged to the free-count path anyway: the generation already
// happened and the increment must not be lost. The balance never goes
// negative.
func Commit(rec Record, t tier.Tier, model ModelType, limits tier.Limits, now time.Time) (Record, Delta) {
	policy := tier.Lookup(t, limits)

	var delta Delta
	if ResetDue(rec, now) {
		rec.MonthlyCount = 0
		rec.MonthlyResetAt = NextResetAt(now)
		delta.ResetApplied = true
		delta.NewResetAt = rec.MonthlyResetAt
	} else if rec.MonthlyResetAt.IsZero() {
		rec.MonthlyResetAt = NextResetAt(now)
		delta.NewResetAt = rec.MonthlyResetAt
	}

	payByCredit := false
	if policy.MonthlyLimit != tier.Unlimited && rec.MonthlyCount >= policy.MonthlyLimit {
		cost := CreditCost(model)
		if rec.CreditBalance >= cost {
			payByCredit = true
			rec.CreditBalance -= cost
			delta.CreditDebit = cost
		}
	}
	if !payByCredit {
		rec.MonthlyCount++
		delta.Monthly = 1
	}

	rec.LifetimeCount++
	delta.Lifetime = 1
	switch model {
	case ModelQuick:
		rec.QuickCount++
		delta.Quick = 1
	case ModelPremium:
		rec.PremiumCount++
		delta.Premium = 1
	default:
		panic(fmt.Sprintf("ledger: unknown model type %d", int(model)))
	}

	return rec, delta
}

// Remaining returns max(0, limit-used) for finite limits and
// tier.Unlimited for unbounded ones.
func Remaining(used, limit int64) int64 {
	if limit == tier.Unlimited {
		return tier.Unlimited
	}
	r := limit - used
	if r < 0 {
		return 0
	}
	return r
}
