package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pizzacorruption/trumpswap-sub001/adapters/clock"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/idgen"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/memory"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/metrics"
	"github.com/pizzacorruption/trumpswap-sub001/app"
	"github.com/pizzacorruption/trumpswap-sub001/domain/abuse"
	"github.com/pizzacorruption/trumpswap-sub001/domain/capacity"
	"github.com/pizzacorruption/trumpswap-sub001/domain/tier"
	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

var cookieSecret = []byte("test-cookie-secret")

type fakeGenerator struct {
	err   error
	calls int
}

func (g *fakeGenerator) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GenerateResult, error) {
	g.calls++
	if g.err != nil {
		return ports.GenerateResult{}, g.err
	}
	return ports.GenerateResult{ImageURL: "https://cdn.example.com/out.png"}, nil
}

type fakeVerifier struct {
	tokens map[string]string
}

func (v fakeVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	userID, ok := v.tokens[token]
	if !ok {
		return "", ports.ErrNotFound
	}
	return userID, nil
}

type fixture struct {
	handler   *Handler
	router    http.Handler
	generator *fakeGenerator
	profiles  *memory.ProfileStore
	anon      *memory.AnonStore
	clock     *clock.Fake
}

func newFixture(t *testing.T, cfg app.DynamicConfig) *fixture {
	t.Helper()
	f := &fixture{
		generator: &fakeGenerator{},
		profiles:  memory.NewProfileStore(),
		anon:      memory.NewAnonStore(),
		clock:     clock.NewFake(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)),
	}
	collector := metrics.NewWith(prometheus.NewRegistry())
	sessions := memory.NewAdminSessionStore()
	admission := app.NewAdmissionService(app.AdmissionDeps{
		Profiles: f.profiles,
		Anon:     f.anon,
		Sessions: sessions,
		Capacity: memory.NewCapacityStore(),
		Abuse:    memory.NewAbuseStore(),
		Clock:    f.clock,
		Metrics:  collector,
		Logger:   zerolog.Nop(),
	}, cfg)

	f.handler = NewHandler(Deps{
		Admission: admission,
		Admin: app.NewAdminService(app.AdminDeps{
			Sessions: sessions,
			Clock:    f.clock,
			Logger:   zerolog.Nop(),
		}),
		Generator: f.generator,
		Verifier:  fakeVerifier{tokens: map[string]string{"tok-user1": "user-1"}},
		Anon:      f.anon,
		IDs:       idgen.NewSequential("job"),
		Clock:     f.clock,
		Metrics:   collector,
		Logger:    zerolog.Nop(),
		Cookie:    CookieConfig{Name: "ts_anon", Secret: cookieSecret, MaxAge: time.Hour},
	})
	f.router = f.handler.Router(false, "")
	return f
}

func defaultCfg() app.DynamicConfig {
	return app.DynamicConfig{
		Capacity: capacity.Config{Limit: 100, Window: time.Hour},
		Abuse:    abuse.Config{Threshold: 20, Detect: 5 * time.Minute, GCHorizon: time.Hour},
		Limits:   tier.Limits{Anonymous: 1, Free: 3},
	}
}

func (f *fixture) generate(t *testing.T, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"model":"quick"}`))
	req.RemoteAddr = "203.0.113.9:40120"
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestGenerate_AnonymousFlow(t *testing.T) {
	f := newFixture(t, defaultCfg())

	// First request: a fresh signed cookie is issued and the generation
	// succeeds.
	w := f.generate(t, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var anonCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "ts_anon" {
			anonCookie = c
		}
	}
	if anonCookie == nil {
		t.Fatal("no anonymous cookie issued")
	}
	if !anonCookie.HttpOnly {
		t.Error("cookie must be httpOnly")
	}
	body := decode[generateResponseBody](t, w)
	if body.ImageURL == "" {
		t.Error("no image url in response")
	}
	if !strings.HasPrefix(body.ID, "gen_") {
		t.Errorf("generation id = %q, want gen_ prefix", body.ID)
	}
	if body.Usage.Used != 1 || body.Usage.Remaining != 0 {
		t.Errorf("usage = %+v, want used 1 remaining 0", body.Usage)
	}

	// Second request with the same cookie: the lifetime allotment is spent.
	w = f.generate(t, func(r *http.Request) { r.AddCookie(anonCookie) })
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	denial := decode[quotaErrorBody](t, w)
	if denial.Code != "RATE_LIMITED" {
		t.Errorf("Code = %q, want RATE_LIMITED", denial.Code)
	}
	if denial.Tier != "anonymous" || denial.Limit != 1 || denial.Remaining != 0 {
		t.Errorf("denial = %+v", denial)
	}
	if denial.UpgradeURL == "" || denial.Message == "" {
		t.Errorf("denial missing upgrade prompt: %+v", denial)
	}
	if f.generator.calls != 1 {
		t.Errorf("generator calls = %d, want 1 (denied request never reaches upstream)", f.generator.calls)
	}
}

func TestGenerate_TamperedCookieGetsFreshIdentity(t *testing.T) {
	f := newFixture(t, defaultCfg())

	w := f.generate(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "ts_anon", Value: "anon_deadbeef.forgedsignature"})
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	// A fresh cookie replaces the forged one.
	replaced := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "ts_anon" && !strings.Contains(c.Value, "deadbeef") {
			replaced = true
		}
	}
	if !replaced {
		t.Error("forged cookie was not replaced")
	}
}

func TestGenerate_AuthenticatedFlow(t *testing.T) {
	f := newFixture(t, defaultCfg())

	for i := 0; i < 3; i++ {
		w := f.generate(t, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer tok-user1")
		})
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body %s", i+1, w.Code, w.Body.String())
		}
	}

	w := f.generate(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer tok-user1")
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after the monthly allotment", w.Code)
	}
	denial := decode[quotaErrorBody](t, w)
	if denial.Tier != "free" || denial.Used != 3 {
		t.Errorf("denial = %+v", denial)
	}
	if denial.ResetAt == "" {
		t.Error("authenticated quota denial must carry a reset date")
	}
}

func TestGenerate_InvalidBearerRejected(t *testing.T) {
	f := newFixture(t, defaultCfg())
	w := f.generate(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer tok-bogus")
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGenerate_UpstreamFailureNotCharged(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.generator.err = errors.New("upstream exploded")

	w := f.generate(t, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	// The quota survives the failed attempt: retry with the issued cookie.
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "ts_anon" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no cookie issued")
	}
	f.generator.err = nil
	w = f.generate(t, func(r *http.Request) { r.AddCookie(cookie) })
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: failed generation must not consume quota", w.Code)
	}
}

func TestGenerate_CapacitySaturation(t *testing.T) {
	cfg := defaultCfg()
	cfg.Capacity.Limit = 1
	f := newFixture(t, cfg)

	if w := f.generate(t, nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	w := f.generate(t, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	denial := decode[errorBody](t, w)
	if denial.Code != "SERVICE_BUSY" {
		t.Errorf("Code = %q, want SERVICE_BUSY", denial.Code)
	}
	// The vague message must not leak thresholds.
	if strings.Contains(denial.Error, "1") {
		t.Errorf("capacity denial leaks the limit: %q", denial.Error)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestGenerate_AbuseDenial(t *testing.T) {
	cfg := defaultCfg()
	cfg.Abuse.Threshold = 1
	f := newFixture(t, cfg)

	f.generate(t, nil)
	w := f.generate(t, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if denial := decode[errorBody](t, w); denial.Code != "TOO_MANY_REQUESTS" {
		t.Errorf("Code = %q, want TOO_MANY_REQUESTS", denial.Code)
	}
}

func TestGenerate_TestBypassHeader(t *testing.T) {
	cfg := defaultCfg()
	cfg.Capacity.Limit = 1
	cfg.TestSecret = "e2e-secret"
	f := newFixture(t, cfg)

	f.generate(t, nil) // saturate capacity
	w := f.generate(t, func(r *http.Request) {
		r.Header.Set("X-Test-Auth", "e2e-secret")
	})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 via test bypass", w.Code)
	}
}

func TestGenerate_UnknownModelRejected(t *testing.T) {
	f := newFixture(t, defaultCfg())
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"model":"ultra"}`))
	req.RemoteAddr = "203.0.113.9:40120"
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUsage_ReportsWithoutCharging(t *testing.T) {
	f := newFixture(t, defaultCfg())

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.RemoteAddr = "203.0.113.9:40120"
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode[map[string]usageBlock](t, w)
	if u := body["usage"]; u.Used != 0 || u.Remaining != 1 || u.Tier != "anonymous" {
		t.Errorf("usage = %+v", u)
	}
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t, defaultCfg())

	for _, path := range []string{"/healthz", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, w.Code)
		}
	}
}

func TestAdminLogin_NoHashConfigured(t *testing.T) {
	f := newFixture(t, defaultCfg())
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(`{"password":"anything"}`))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when no operator password is set", w.Code)
	}
}
