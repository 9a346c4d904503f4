// Package tier provides the closed tier enumeration and quota policy table.
// All functions are pure lookups over a table fixed at process start.
package tier

import "fmt"

// Tier identifies a quota policy. The set is closed: adding a tier means
// updating every exhaustive switch in this package, checked at compile time
// via the panic defaults.
type Tier int

const (
	Anonymous Tier = iota
	Free
	Paid
	Admin
	Test
)

// Unlimited is the MonthlyLimit value for tiers with no monthly cap.
const Unlimited int64 = -1

// Policy describes the quota attached to a tier (immutable value type).
type Policy struct {
	DisplayName  string
	Description  string
	MonthlyLimit int64 // Unlimited (-1) = no cap
}

// Limits holds the configurable monthly limits for the bounded tiers.
type Limits struct {
	Anonymous int64
	Free      int64
}

// DefaultLimits are the limits used when config does not override them.
var DefaultLimits = Limits{Anonymous: 1, Free: 3}

// String returns the wire identifier of the tier.
func (t Tier) String() string {
	switch t {
	case Anonymous:
		return "anonymous"
	case Free:
		return "free"
	case Paid:
		return "paid"
	case Admin:
		return "admin"
	case Test:
		return "test"
	default:
		panic(fmt.Sprintf("tier: unknown tier %d", int(t)))
	}
}

// Parse converts a wire identifier to a Tier.
func Parse(s string) (Tier, bool) {
	switch s {
	case "anonymous":
		return Anonymous, true
	case "free":
		return Free, true
	case "paid":
		return Paid, true
	case "admin":
		return Admin, true
	case "test":
		return Test, true
	default:
		return Anonymous, false
	}
}

// Lookup returns the policy for a tier under the given limits.
// An unknown tier is a programming error, not a runtime condition.
func Lookup(t Tier, limits Limits) Policy {
	switch t {
	case Anonymous:
		return Policy{
			DisplayName:  "Anonymous",
			Description:  "Try it out without an account",
			MonthlyLimit: limits.Anonymous,
		}
	case Free:
		return Policy{
			DisplayName:  "Free",
			Description:  "Free account with a monthly allotment",
			MonthlyLimit: limits.Free,
		}
	case Paid:
		return Policy{
			DisplayName:  "Pro",
			Description:  "Paid subscription, no monthly cap",
			MonthlyLimit: Unlimited,
		}
	case Admin:
		return Policy{
			DisplayName:  "Admin",
			Description:  "Operator account",
			MonthlyLimit: Unlimited,
		}
	case Test:
		return Policy{
			DisplayName:  "Test",
			Description:  "Automated testing",
			MonthlyLimit: Unlimited,
		}
	default:
		panic(fmt.Sprintf("tier: unknown tier %d", int(t)))
	}
}

// IsUnlimited reports whether the tier has no monthly cap under the limits.
func IsUnlimited(t Tier, limits Limits) bool {
	return Lookup(t, limits).MonthlyLimit == Unlimited
}

// UpgradeMessage returns the user-facing prompt shown when a tier's quota
// is exhausted.
func UpgradeMessage(t Tier) string {
	switch t {
	case Anonymous:
		return "Sign up for a free account to keep generating."
	case Free:
		return "Upgrade to Pro for unlimited generations."
	case Paid, Admin, Test:
		return "Quota exceeded. Please try again later."
	default:
		panic(fmt.Sprintf("tier: unknown tier %d", int(t)))
	}
}

// SubscriptionStatus values mirrored from the external profile store.
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionNone     = ""
)

// FromSubscription maps a profile's subscription status onto a tier.
// fallback is the tier for profiles without an active subscription
// (Free for authenticated users, Anonymous otherwise).
func FromSubscription(status string, fallback Tier) Tier {
	switch status {
	case SubscriptionActive, SubscriptionTrialing:
		return Paid
	default:
		return fallback
	}
}
