package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/metrics"
	"github.com/calebmills99/guardrV6/internal/ratelimit"
)

// AdmissionConfig holds configuration for admission control.
type AdmissionConfig struct {
	Logger   *slog.Logger
	Admitter ratelimit.Admitter
	// Quota is the anonymous per-IP quota for Admission and the base quota
	// scaled by tier for TierQuota.
	Quota   ratelimit.Quota
	Metrics metrics.Recorder
}

// Admission limits requests per client IP before authentication runs.
// Admitter errors fail open.
func Admission(cfg AdmissionConfig) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + ratelimit.ClientIP(r)
			if cfg.admit(w, r, metrics.ScopeIP, key, cfg.Quota) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// TierQuota limits authenticated requests per user with the quota scaled
// by the identity's tier. Anonymous requests pass through unchanged.
func TierQuota(cfg AdmissionConfig) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}
			q := ratelimit.QuotaForTier(cfg.Quota, identity.Tier)
			if cfg.admit(w, r, metrics.ScopeUser, identity.RateLimitKey(), q) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (cfg AdmissionConfig) withDefaults() AdmissionConfig {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return cfg
}

// admit runs one check and writes the rejection itself. It reports whether
// the request may continue.
func (cfg AdmissionConfig) admit(w http.ResponseWriter, r *http.Request, scope, key string, q ratelimit.Quota) bool {
	decision, err := cfg.Admitter.Admit(r.Context(), key, q)
	if err != nil {
		cfg.Metrics.IncAdmission(scope, metrics.AdmissionError)
		cfg.Logger.Error("admission check failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return true
	}

	setRateLimitHeaders(w, decision)

	if decision.Allowed {
		cfg.Metrics.IncAdmission(scope, metrics.AdmissionAllowed)
		return true
	}

	cfg.Metrics.IncAdmission(scope, metrics.AdmissionDenied)
	retryAfter := retryAfterSeconds(decision.RetryAfter)
	cfg.Logger.Warn("rate limit exceeded",
		slog.String("scope", scope),
		slog.String("ip", ratelimit.ClientIP(r)),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.Int("retry_after_seconds", retryAfter),
		slog.String("request_id", GetRequestID(r.Context())),
	)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeErrorBody(w, http.StatusTooManyRequests, errorDetail{
		Code:    "RATE_LIMITED",
		Message: fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", retryAfter),
		Details: quotaDetails{
			Limit:             q.Capacity,
			RefillPerMinute:   q.RefillPerMinute,
			RetryAfterSeconds: retryAfter,
		},
	})
	return false
}

// quotaDetails discloses the effective quota to a rejected client.
type quotaDetails struct {
	Limit             int     `json:"limit"`
	RefillPerMinute   float64 `json:"refill_per_minute"`
	RetryAfterSeconds int     `json:"retry_after_seconds"`
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// retryAfterSeconds rounds up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
