// Package http provides the HTTP surface for the admission-controlled
// generation API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pizzacorruption/trumpswap-sub001/adapters/metrics"
	"github.com/pizzacorruption/trumpswap-sub001/app"
	"github.com/pizzacorruption/trumpswap-sub001/domain/identity"
	"github.com/pizzacorruption/trumpswap-sub001/domain/ledger"
	"github.com/pizzacorruption/trumpswap-sub001/domain/tier"
	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// Version is set at build time.
var Version = "dev"

// CookieConfig configures the anonymous-identity cookie.
type CookieConfig struct {
	Name   string
	Secret []byte
	MaxAge time.Duration
}

// Handler serves the generation API.
type Handler struct {
	admission   *app.AdmissionService
	admin       *app.AdminService
	generator   ports.Generator
	verifier    ports.AuthVerifier
	anon        ports.AnonUsageStore
	ids         ports.IDGenerator
	clock       ports.Clock
	metrics     *metrics.Collector
	logger      zerolog.Logger
	cookie      CookieConfig
	trustedHops int
	upgradeURL  string
}

// Deps contains dependencies for the HTTP handler.
type Deps struct {
	Admission   *app.AdmissionService
	Admin       *app.AdminService
	Generator   ports.Generator
	Verifier    ports.AuthVerifier
	Anon        ports.AnonUsageStore
	IDs         ports.IDGenerator
	Clock       ports.Clock
	Metrics     *metrics.Collector
	Logger      zerolog.Logger
	Cookie      CookieConfig
	TrustedHops int
	UpgradeURL  string
}

// NewHandler creates the HTTP handler.
func NewHandler(deps Deps) *Handler {
	upgradeURL := deps.UpgradeURL
	if upgradeURL == "" {
		upgradeURL = "/pricing"
	}
	return &Handler{
		admission:   deps.Admission,
		admin:       deps.Admin,
		generator:   deps.Generator,
		verifier:    deps.Verifier,
		anon:        deps.Anon,
		ids:         deps.IDs,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		cookie:      deps.Cookie,
		trustedHops: deps.TrustedHops,
		upgradeURL:  upgradeURL,
	}
}

// Router builds the chi router.
func (h *Handler) Router(metricsEnabled bool, metricsPath string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)

	r.Post("/api/generate", h.handleGenerate)
	r.Get("/api/usage", h.handleUsage)
	r.Post("/api/admin/login", h.handleAdminLogin)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version, "service": "trumpswap"})
	})
	if metricsEnabled {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Handle(metricsPath, promhttp.Handler())
	}

	return r
}

type generateBody struct {
	Model      string `json:"model"`
	PhotoURL   string `json:"photo_url"`
	TemplateID string `json:"template_id"`
}

type usageBlock struct {
	Used             int64  `json:"used"`
	Limit            int64  `json:"limit"`
	Remaining        int64  `json:"remaining"`
	Tier             string `json:"tier"`
	TierName         string `json:"tierName"`
	QuickRemaining   int64  `json:"quickRemaining"`
	PremiumRemaining int64  `json:"premiumRemaining"`
}

type generateResponseBody struct {
	ID       string     `json:"id"`
	ImageURL string     `json:"image_url"`
	Usage    usageBlock `json:"usage"`
}

type quotaErrorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Tier       string `json:"tier"`
	TierName   string `json:"tierName"`
	Limit      int64  `json:"limit"`
	Used       int64  `json:"used"`
	Remaining  int64  `json:"remaining"`
	ResetAt    string `json:"resetAt"`
	UpgradeURL string `json:"upgradeUrl"`
	Message    string `json:"message"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read request body", Code: "BAD_REQUEST"})
		return
	}
	var body generateBody
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Code: "BAD_REQUEST"})
			return
		}
	}
	model, ok := ledger.ParseModel(body.Model)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown model type", Code: "BAD_REQUEST"})
		return
	}

	admReq, ok := h.resolveIdentity(w, r)
	if !ok {
		return
	}
	admReq.Model = model

	result, admitErr := h.admitSafe(r.Context(), admReq)
	h.writeCapacityHeaders(w, result)

	if admitErr != nil {
		// The pre-check itself could not be evaluated. Denying here is
		// deliberate: admitting blind would turn a storage outage into
		// unmetered upstream spend.
		h.logger.Error().Err(admitErr).Msg("admission pre-check failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error: "Service temporarily unavailable, please try again.",
			Code:  "ADMISSION_UNAVAILABLE",
		})
		return
	}

	if !result.Allowed {
		h.writeDenial(w, result)
		return
	}

	// Server-assigned job id, carried to the upstream as the trace id and
	// returned to the client for support lookups.
	genID := "gen_" + h.ids.New()

	start := h.clock.Now()
	genResult, err := h.generator.Generate(ctx, ports.GenerateRequest{
		Model:      model,
		PhotoURL:   body.PhotoURL,
		TemplateID: body.TemplateID,
		TraceID:    genID,
	})
	h.metrics.GenerationDuration.WithLabelValues(model.String()).
		Observe(time.Since(start).Seconds())
	if err != nil {
		// Failed or cancelled generations are never charged.
		h.metrics.GenerationErrors.Inc()
		h.logger.Error().Err(err).
			Str("model", model.String()).
			Str("generation_id", genID).
			Msg("generation failed")
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error: "Image generation failed, you have not been charged.",
			Code:  "GENERATION_FAILED",
		})
		return
	}

	// Commit strictly after confirmed success. A persistence failure here
	// is logged and reconciled out-of-band; the user already has their
	// image and must not see an error.
	usage := result.Usage
	if committed, err := result.Commit(ctx); err != nil {
		h.logger.Error().Err(err).
			Str("identity", admReq.Identity().Key()).
			Msg("usage commit failed after successful generation")
	} else {
		usage = committed
	}

	writeJSON(w, http.StatusOK, generateResponseBody{
		ID:       genID,
		ImageURL: genResult.ImageURL,
		Usage:    toUsageBlock(usage),
	})
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	admReq, ok := h.resolveIdentity(w, r)
	if !ok {
		return
	}
	usage, err := h.admission.UsageFor(r.Context(), admReq)
	if err != nil {
		h.logger.Error().Err(err).Msg("usage lookup failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error: "Service temporarily unavailable, please try again.",
			Code:  "ADMISSION_UNAVAILABLE",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]usageBlock{"usage": toUsageBlock(usage)})
}

type adminLoginBody struct {
	Password string `json:"password"`
}

func (h *Handler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var body adminLoginBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Code: "BAD_REQUEST"})
		return
	}
	token, err := h.admin.Login(r.Context(), body.Password)
	if err != nil {
		if errors.Is(err, app.ErrBadCredentials) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials", Code: "UNAUTHORIZED"})
			return
		}
		h.logger.Error().Err(err).Msg("admin login failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "login failed", Code: "INTERNAL"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// resolveIdentity derives the request's identity: a verified bearer token,
// else the signed anonymous cookie, else a freshly minted anonymous id
// (cookie written, zeroed row created). Returns false after writing an
// error response.
func (h *Handler) resolveIdentity(w http.ResponseWriter, r *http.Request) (app.AdmissionRequest, bool) {
	req := app.AdmissionRequest{
		SourceIP:   identity.ClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), h.trustedHops),
		AdminToken: r.Header.Get("X-Admin-Token"),
		TestToken:  r.Header.Get("X-Test-Auth"),
	}

	if token := bearerToken(r); token != "" {
		userID, err := h.verifier.VerifyToken(r.Context(), token)
		if errors.Is(err, ports.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token", Code: "UNAUTHORIZED"})
			return app.AdmissionRequest{}, false
		}
		if err != nil {
			h.logger.Error().Err(err).Msg("token verification failed")
			writeJSON(w, http.StatusServiceUnavailable, errorBody{
				Error: "Service temporarily unavailable, please try again.",
				Code:  "AUTH_UNAVAILABLE",
			})
			return app.AdmissionRequest{}, false
		}
		req.UserID = userID
		return req, true
	}

	if cookie, err := r.Cookie(h.cookie.Name); err == nil {
		if anonID, ok := identity.VerifyAnonID(cookie.Value, h.cookie.Secret); ok {
			req.AnonID = anonID
			return req, true
		}
		// Tampered or unsigned cookie: discard and mint fresh.
	}

	anonID := identity.MintAnonID()
	if err := h.anon.Create(r.Context(), anonID, h.clock.Now()); err != nil {
		h.logger.Error().Err(err).Msg("anon row creation failed")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    identity.SignAnonID(anonID, h.cookie.Secret),
		Path:     "/",
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	req.AnonID = anonID
	return req, true
}

// admitSafe is the outermost error boundary of the admission pipeline. A
// panic anywhere inside the guards fails open to "continue without rate
// limiting" here and only here, so a bug in one guard cannot silently
// disable the others on the paths where they do work.
func (h *Handler) admitSafe(ctx context.Context, req app.AdmissionRequest) (result app.AdmissionResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().Interface("panic", rec).Msg("admission pipeline panicked, failing open")
			result = app.AdmissionResult{
				Allowed: true,
				Usage:   app.Usage{Limit: tier.Unlimited, Remaining: tier.Unlimited, Tier: tier.Free, TierName: "Free"},
				Commit: func(context.Context) (app.Usage, error) {
					return app.Usage{}, nil
				},
			}
			err = nil
		}
	}()
	return h.admission.Admit(ctx, req)
}

func (h *Handler) writeDenial(w http.ResponseWriter, result app.AdmissionResult) {
	switch result.Reason {
	case app.DenyQuota:
		resetAt := ""
		if !result.Usage.ResetAt.IsZero() {
			resetAt = result.Usage.ResetAt.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusTooManyRequests, quotaErrorBody{
			Error:      "Generation limit reached",
			Code:       "RATE_LIMITED",
			Tier:       result.Usage.Tier.String(),
			TierName:   result.Usage.TierName,
			Limit:      result.Usage.Limit,
			Used:       result.Usage.Used,
			Remaining:  0,
			ResetAt:    resetAt,
			UpgradeURL: h.upgradeURL,
			Message:    tier.UpgradeMessage(result.Usage.Tier),
		})
	case app.DenyCapacity:
		// Deliberately vague: thresholds are not revealed.
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error: "The service is at capacity right now, please try again later.",
			Code:  "SERVICE_BUSY",
		})
	case app.DenyAbuse:
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error: "Too many requests, slow down.",
			Code:  "TOO_MANY_REQUESTS",
		})
	default:
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error: "Request denied.",
			Code:  "DENIED",
		})
	}
}

// writeCapacityHeaders reports the global fixed-window state following the
// standard rate-limit header convention.
func (h *Handler) writeCapacityHeaders(w http.ResponseWriter, result app.AdmissionResult) {
	if result.Capacity.ResetAt.IsZero() {
		return
	}
	cfg := h.admission.Config()
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(cfg.Capacity.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Capacity.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Capacity.ResetAt.Unix(), 10))
}

// logRequests emits one structured log line per request.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func toUsageBlock(u app.Usage) usageBlock {
	return usageBlock{
		Used:             u.Used,
		Limit:            u.Limit,
		Remaining:        u.Remaining,
		Tier:             u.Tier.String(),
		TierName:         u.TierName,
		QuickRemaining:   u.QuickRemaining,
		PremiumRemaining: u.PremiumRemaining,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
