// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pizzacorruption/trumpswap-sub001/adapters/memory"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/metrics"
	"github.com/pizzacorruption/trumpswap-sub001/domain/abuse"
	"github.com/pizzacorruption/trumpswap-sub001/domain/capacity"
	"github.com/pizzacorruption/trumpswap-sub001/domain/identity"
	"github.com/pizzacorruption/trumpswap-sub001/domain/ledger"
	"github.com/pizzacorruption/trumpswap-sub001/domain/tier"
	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// DenyReason classifies why admission was refused.
type DenyReason int

const (
	DenyNone DenyReason = iota
	DenyCapacity
	DenyAbuse
	DenyQuota
)

// String returns the wire identifier of the deny reason.
func (r DenyReason) String() string {
	switch r {
	case DenyNone:
		return "none"
	case DenyCapacity:
		return "capacity_exceeded"
	case DenyAbuse:
		return "abuse_detected"
	case DenyQuota:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

// BypassKind identifies which privileged path admitted a request.
type BypassKind int

const (
	BypassNone BypassKind = iota
	BypassAdmin
	BypassTest
)

// String returns the wire identifier of the bypass kind.
func (k BypassKind) String() string {
	switch k {
	case BypassAdmin:
		return "admin"
	case BypassTest:
		return "test"
	default:
		return "none"
	}
}

// AdmissionRequest carries everything the controller needs about one
// incoming generation request. Identity is already resolved by the HTTP
// layer: UserID is verified, AnonID came from a signature-checked cookie.
type AdmissionRequest struct {
	UserID     string
	AnonID     string
	SourceIP   string
	AdminToken string
	TestToken  string
	Model      ledger.ModelType

	// Profile, when set, is a fresher snapshot than the store's mirror
	// (e.g. handed in by a caller that just processed a purchase) and
	// takes precedence for this request.
	Profile *ports.Profile
}

// Identity returns the identity the request is metered against.
func (r AdmissionRequest) Identity() identity.Identity {
	return identity.Identity{UserID: r.UserID, AnonID: r.AnonID}
}

// Usage is the usage block reported back to the client.
type Usage struct {
	Used             int64
	Limit            int64 // tier.Unlimited (-1) = unbounded
	Remaining        int64
	Tier             tier.Tier
	TierName         string
	QuickRemaining   int64
	PremiumRemaining int64
	ResetAt          time.Time
}

// CommitFunc durably applies the admitted request's cost. Invoked by the
// caller strictly after the downstream generation reported success, never
// speculatively.
type CommitFunc func(ctx context.Context) (Usage, error)

// AdmissionResult is the outcome of running the guard pipeline.
type AdmissionResult struct {
	Allowed bool
	Reason  DenyReason
	Bypass  BypassKind
	Usage   Usage
	Payment ledger.Payment

	// Capacity carries the fixed-window counters for rate-limit headers.
	// Populated whether or not the request was admitted.
	Capacity capacity.Result

	// Commit is non-nil iff Allowed.
	Commit CommitFunc
}

// DynamicConfig contains hot-reloadable admission parameters.
type DynamicConfig struct {
	Capacity   capacity.Config
	Abuse      abuse.Config
	Limits     tier.Limits
	TestSecret string
}

// AdmissionDeps contains dependencies for AdmissionService.
type AdmissionDeps struct {
	Profiles ports.ProfileStore
	Anon     ports.AnonUsageStore
	Sessions ports.AdminSessionStore
	Capacity *memory.CapacityStore
	Abuse    *memory.AbuseStore
	Clock    ports.Clock
	Metrics  *metrics.Collector
	Logger   zerolog.Logger
}

// AdmissionService decides, for every incoming generation request, whether
// it may proceed, under which tier and at what cost, and hands back the
// commit step that records the decision after downstream success.
//
// Guard order is fixed: privileged bypass, then global capacity, then the
// per-IP abuse window, then the per-identity quota. A guard can only deny;
// nothing downstream of a denial runs.
type AdmissionService struct {
	profiles ports.ProfileStore
	anon     ports.AnonUsageStore
	sessions ports.AdminSessionStore
	capacity *memory.CapacityStore
	abuse    *memory.AbuseStore
	clock    ports.Clock
	metrics  *metrics.Collector
	logger   zerolog.Logger

	// Hot-reloadable configuration. Reloads swap the whole struct, never
	// mutate in place.
	dynamicCfg atomic.Pointer[DynamicConfig]
}

// NewAdmissionService creates the admission controller.
func NewAdmissionService(deps AdmissionDeps, cfg DynamicConfig) *AdmissionService {
	s := &AdmissionService{
		profiles: deps.Profiles,
		anon:     deps.Anon,
		sessions: deps.Sessions,
		capacity: deps.Capacity,
		abuse:    deps.Abuse,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig swaps the hot-reloadable configuration. Thread-safe; callers
// mid-request keep the config they started with.
func (s *AdmissionService) UpdateConfig(cfg DynamicConfig) {
	s.dynamicCfg.Store(&cfg)
}

// Config returns the current dynamic configuration.
func (s *AdmissionService) Config() DynamicConfig {
	return *s.dynamicCfg.Load()
}

// Admit runs the guard pipeline for one generation request.
//
// A nil error with Allowed=false is an ordinary denial. A non-nil error
// means the pre-check itself could not be evaluated (persistence failure);
// the caller must deny in that case too, since admitting blind would let a
// storage outage turn into unmetered upstream spend.
func (s *AdmissionService) Admit(ctx context.Context, req AdmissionRequest) (AdmissionResult, error) {
	now := s.clock.Now()
	cfg := s.Config()

	// 1. Privileged bypass. Checked before every guard so operators can
	// act even while the service is saturated.
	if kind, ok := s.checkBypass(ctx, req, cfg); ok {
		s.logger.Info().
			Str("bypass", kind.String()).
			Str("ip", req.SourceIP).
			Msg("privileged bypass admitted")
		s.metrics.BypassTotal.WithLabelValues(kind.String()).Inc()

		t := tier.Admin
		if kind == BypassTest {
			t = tier.Test
		}
		usage := unboundedUsage(t)
		return AdmissionResult{
			Allowed: true,
			Bypass:  kind,
			Usage:   usage,
			Commit:  func(context.Context) (Usage, error) { return usage, nil },
		}, nil
	}

	// 2. Global capacity. Ahead of all identity-specific logic so a
	// misbehaving per-user check can never blow the shared upstream budget.
	capResult := s.capacity.Check(cfg.Capacity, now)
	s.metrics.CapacityUsed.Set(float64(cfg.Capacity.Limit - capResult.Remaining))
	if !capResult.Allowed {
		s.deny(DenyCapacity, req)
		return AdmissionResult{Reason: DenyCapacity, Capacity: capResult}, nil
	}

	// 3. Per-IP abuse window, before any identity-specific quota is
	// charged. Identity-agnostic: rotating cookies does not help.
	abuseResult := s.abuse.Check(req.SourceIP, cfg.Abuse, now)
	s.metrics.AbuseTrackedIPs.Set(float64(s.abuse.Len()))
	if abuseResult.Flagged {
		s.metrics.AbuseFlagged.Inc()
		s.deny(DenyAbuse, req)
		return AdmissionResult{Reason: DenyAbuse, Capacity: capResult}, nil
	}

	// 4. Per-identity quota.
	if req.UserID != "" {
		return s.admitAuthenticated(ctx, req, cfg, capResult, now)
	}
	return s.admitAnonymous(ctx, req, cfg, capResult, now)
}

// checkBypass evaluates the two privileged paths. The admin credential is
// validated against the server-held session store; the test secret is
// compared in constant time and inert unless explicitly configured.
func (s *AdmissionService) checkBypass(ctx context.Context, req AdmissionRequest, cfg DynamicConfig) (BypassKind, bool) {
	if req.AdminToken != "" {
		valid, err := s.sessions.IsValid(ctx, req.AdminToken)
		if err != nil {
			s.logger.Error().Err(err).Msg("admin session lookup failed")
		} else if valid {
			return BypassAdmin, true
		}
	}
	if req.TestToken != "" && cfg.TestSecret != "" &&
		subtle.ConstantTimeCompare([]byte(req.TestToken), []byte(cfg.TestSecret)) == 1 {
		return BypassTest, true
	}
	return BypassNone, false
}

func (s *AdmissionService) admitAuthenticated(ctx context.Context, req AdmissionRequest, cfg DynamicConfig, capResult capacity.Result, now time.Time) (AdmissionResult, error) {
	profile, err := s.loadProfile(ctx, req, now)
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("load profile: %w", err)
	}

	t := tier.FromSubscription(profile.SubscriptionStatus, tier.Free)
	decision := ledger.Evaluate(profile.Usage, t, req.Model, cfg.Limits, now)
	if !decision.Allowed {
		s.deny(DenyQuota, req)
		return AdmissionResult{
			Reason:   DenyQuota,
			Usage:    usageFromRecord(profile.Usage, t, cfg.Limits, now),
			Capacity: capResult,
		}, nil
	}

	result := AdmissionResult{
		Allowed:  true,
		Usage:    usageFromRecord(profile.Usage, t, cfg.Limits, now),
		Payment:  decision.Payment,
		Capacity: capResult,
	}
	result.Commit = func(ctx context.Context) (Usage, error) {
		return s.commitAuthenticated(ctx, req.UserID, req.Model)
	}
	s.metrics.AdmissionsTotal.WithLabelValues("allowed", t.String()).Inc()
	return result, nil
}

// commitAuthenticated recomputes the payment classification from
// commit-time state rather than trusting the pre-check: the profile may
// have been updated concurrently (say, by a purchase). The store applies
// the delta atomically; if a racing debit drained the balance between the
// read and the conditional update, the charge falls back to the free-count
// path so the increment is never lost and the balance never goes negative.
func (s *AdmissionService) commitAuthenticated(ctx context.Context, userID string, model ledger.ModelType) (Usage, error) {
	now := s.clock.Now()
	cfg := s.Config()

	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return Usage{}, fmt.Errorf("reload profile: %w", err)
	}
	t := tier.FromSubscription(profile.SubscriptionStatus, tier.Free)

	_, delta := ledger.Commit(profile.Usage, t, model, cfg.Limits, now)
	rec, err := s.profiles.ApplyUsage(ctx, userID, delta)
	if errors.Is(err, ports.ErrInsufficientCredits) {
		fallback := delta
		fallback.CreditDebit = 0
		fallback.Monthly = 1
		rec, err = s.profiles.ApplyUsage(ctx, userID, fallback)
		delta = fallback
	}
	if err != nil {
		s.metrics.CommitFailures.Inc()
		return Usage{}, fmt.Errorf("apply usage: %w", err)
	}

	payment := "freeCount"
	if delta.CreditDebit > 0 {
		payment = "credit"
	}
	s.metrics.CommitsTotal.WithLabelValues(payment).Inc()
	return usageFromRecord(rec, t, cfg.Limits, now), nil
}

func (s *AdmissionService) admitAnonymous(ctx context.Context, req AdmissionRequest, cfg DynamicConfig, capResult capacity.Result, now time.Time) (AdmissionResult, error) {
	rec, err := s.anonRecord(ctx, req.AnonID)
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("load anon usage: %w", err)
	}

	decision := ledger.Evaluate(rec, tier.Anonymous, req.Model, cfg.Limits, now)
	if !decision.Allowed {
		s.deny(DenyQuota, req)
		return AdmissionResult{
			Reason:   DenyQuota,
			Usage:    usageFromRecord(rec, tier.Anonymous, cfg.Limits, now),
			Capacity: capResult,
		}, nil
	}

	result := AdmissionResult{
		Allowed:  true,
		Usage:    usageFromRecord(rec, tier.Anonymous, cfg.Limits, now),
		Payment:  decision.Payment,
		Capacity: capResult,
	}
	anonID := req.AnonID
	model := req.Model
	result.Commit = func(ctx context.Context) (Usage, error) {
		now := s.clock.Now()
		cfg := s.Config()
		row, err := s.anon.Increment(ctx, anonID, model, now)
		if err != nil {
			s.metrics.CommitFailures.Inc()
			return Usage{}, fmt.Errorf("increment anon usage: %w", err)
		}
		s.metrics.CommitsTotal.WithLabelValues("freeCount").Inc()
		return usageFromRecord(anonLedgerRecord(row), tier.Anonymous, cfg.Limits, now), nil
	}
	s.metrics.AdmissionsTotal.WithLabelValues("allowed", tier.Anonymous.String()).Inc()
	return result, nil
}

// UsageFor reports the current usage block for an identity without running
// the guards or charging anything.
func (s *AdmissionService) UsageFor(ctx context.Context, req AdmissionRequest) (Usage, error) {
	now := s.clock.Now()
	cfg := s.Config()

	if req.UserID != "" {
		profile, err := s.loadProfile(ctx, req, now)
		if err != nil {
			return Usage{}, fmt.Errorf("load profile: %w", err)
		}
		t := tier.FromSubscription(profile.SubscriptionStatus, tier.Free)
		return usageFromRecord(profile.Usage, t, cfg.Limits, now), nil
	}

	rec, err := s.anonRecord(ctx, req.AnonID)
	if err != nil {
		return Usage{}, fmt.Errorf("load anon usage: %w", err)
	}
	return usageFromRecord(rec, tier.Anonymous, cfg.Limits, now), nil
}

// loadProfile resolves the profile snapshot for a request: the caller's
// fresher copy wins, else the store's mirror, else a zeroed profile created
// lazily on first observation of the user.
func (s *AdmissionService) loadProfile(ctx context.Context, req AdmissionRequest, now time.Time) (ports.Profile, error) {
	if req.Profile != nil {
		return *req.Profile, nil
	}
	profile, err := s.profiles.Get(ctx, req.UserID)
	if errors.Is(err, ports.ErrNotFound) {
		profile = ports.Profile{UserID: req.UserID, CreatedAt: now, UpdatedAt: now}
		if createErr := s.profiles.Create(ctx, profile); createErr != nil {
			return ports.Profile{}, createErr
		}
		return profile, nil
	}
	if err != nil {
		return ports.Profile{}, err
	}
	return profile, nil
}

// anonRecord loads the ledger view of an anonymous id. A missing row reads
// as zero usage; the row is created on mint and on first increment anyway.
func (s *AdmissionService) anonRecord(ctx context.Context, anonID string) (ledger.Record, error) {
	row, err := s.anon.Get(ctx, anonID)
	if errors.Is(err, ports.ErrNotFound) {
		return ledger.Record{}, nil
	}
	if err != nil {
		return ledger.Record{}, err
	}
	return anonLedgerRecord(row), nil
}

// anonLedgerRecord maps the durable anonymous counters onto a ledger
// record. Anonymous ids have no reset date and no credit balance: the
// allotment is lifetime, which is what makes the cookie worth protecting.
func anonLedgerRecord(row ports.AnonUsage) ledger.Record {
	return ledger.Record{
		LifetimeCount: row.Total(),
		MonthlyCount:  row.Total(),
		QuickCount:    row.QuickCount,
		PremiumCount:  row.PremiumCount,
	}
}

func (s *AdmissionService) deny(reason DenyReason, req AdmissionRequest) {
	s.metrics.DenialsTotal.WithLabelValues(reason.String()).Inc()
	s.logger.Info().
		Str("reason", reason.String()).
		Str("ip", req.SourceIP).
		Str("identity", req.Identity().Key()).
		Msg("admission denied")
}

func unboundedUsage(t tier.Tier) Usage {
	return Usage{
		Used:             0,
		Limit:            tier.Unlimited,
		Remaining:        tier.Unlimited,
		Tier:             t,
		TierName:         tier.Lookup(t, tier.DefaultLimits).DisplayName,
		QuickRemaining:   tier.Unlimited,
		PremiumRemaining: tier.Unlimited,
	}
}

// usageFromRecord builds the client-facing usage block. Per-model remaining
// counts the free allotment plus whatever the credit balance can still buy
// at that model's price.
func usageFromRecord(rec ledger.Record, t tier.Tier, limits tier.Limits, now time.Time) Usage {
	policy := tier.Lookup(t, limits)
	if policy.MonthlyLimit == tier.Unlimited {
		return unboundedUsage(t)
	}

	rec = ledger.ApplyReset(rec, now)
	resetAt := rec.MonthlyResetAt
	if resetAt.IsZero() {
		resetAt = ledger.NextResetAt(now)
	}
	free := ledger.Remaining(rec.MonthlyCount, policy.MonthlyLimit)
	return Usage{
		Used:             rec.MonthlyCount,
		Limit:            policy.MonthlyLimit,
		Remaining:        free,
		Tier:             t,
		TierName:         policy.DisplayName,
		QuickRemaining:   free + rec.CreditBalance/ledger.CreditCostQuick,
		PremiumRemaining: free + rec.CreditBalance/ledger.CreditCostPremium,
		ResetAt:          resetAt,
	}
}
