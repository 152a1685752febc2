package middleware

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/calebmills99/guardrV6/internal/metrics"
	"github.com/calebmills99/guardrV6/internal/ratelimit"
	"github.com/calebmills99/guardrV6/internal/usage"
)

// PipelineConfig carries the long-lived collaborators of every stage.
type PipelineConfig struct {
	Logger   *slog.Logger
	Metrics  metrics.Recorder
	Security SecurityConfig
	CORS     CORSConfig

	Admitter       ratelimit.Admitter
	AnonymousQuota ratelimit.Quota
	UserQuota      ratelimit.Quota

	Tokens  TokenVerifier
	APIKeys KeyAuthenticator

	// Usage counts authenticated requests; nil disables tracking.
	Usage *usage.Tracker
}

// Base returns the stages that run before authentication, in order:
// security headers, body limit, CORS, request ID, logging, recovery and
// per-IP admission.
func Base(cfg PipelineConfig) chi.Middlewares {
	cfg = cfg.withDefaults()
	return chi.Middlewares{
		Security(cfg.Security),
		MaxBodySize(cfg.Security.MaxRequestBodySize),
		CORS(cfg.CORS),
		RequestID,
		Logger(cfg.Logger, cfg.Metrics),
		Recoverer(cfg.Logger),
		Admission(AdmissionConfig{
			Logger:   cfg.Logger,
			Admitter: cfg.Admitter,
			Quota:    cfg.AnonymousQuota,
			Metrics:  cfg.Metrics,
		}),
	}
}

// Protected returns the stages that follow Base on authenticated routes:
// authentication, the tier-scaled per-user quota and usage tracking. Gate individual
// routes with RequireTier after these.
func Protected(cfg PipelineConfig, optional bool) chi.Middlewares {
	cfg = cfg.withDefaults()
	return chi.Middlewares{
		Authenticate(AuthConfig{
			Logger:   cfg.Logger,
			Tokens:   cfg.Tokens,
			APIKeys:  cfg.APIKeys,
			Metrics:  cfg.Metrics,
			Optional: optional,
		}),
		TierQuota(AdmissionConfig{
			Logger:   cfg.Logger,
			Admitter: cfg.Admitter,
			Quota:    cfg.UserQuota,
			Metrics:  cfg.Metrics,
		}),
		Usage(cfg.Usage),
	}
}

// Pipeline returns the full chain for an authenticated endpoint.
func Pipeline(cfg PipelineConfig) chi.Middlewares {
	return append(Base(cfg), Protected(cfg, false)...)
}

func (cfg PipelineConfig) withDefaults() PipelineConfig {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if !cfg.AnonymousQuota.Valid() {
		cfg.AnonymousQuota = ratelimit.DefaultQuota
	}
	if !cfg.UserQuota.Valid() {
		cfg.UserQuota = cfg.AnonymousQuota
	}
	return cfg
}
