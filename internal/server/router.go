package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calebmills99/guardrV6/internal/handler"
	"github.com/calebmills99/guardrV6/internal/middleware"
	"github.com/calebmills99/guardrV6/internal/model"
)

// Routes collects the handlers mounted by NewRouter.
type Routes struct {
	Pipeline middleware.PipelineConfig

	Health  *handler.HealthHandler
	Auth    *handler.AuthHandler
	APIKeys *handler.APIKeyHandler

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

// NewRouter configures the chi router with all routes and middleware.
//
// Health checks and /metrics sit outside the pipeline. Everything under /api/v1
// runs the base stages; session and key management routes additionally
// require an identity, and the usage export requires the pro tier.
func NewRouter(rt Routes) *chi.Mux {
	h := handler.New()
	r := chi.NewRouter()

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	// Health endpoints (no auth, no admission)
	r.Get("/healthz", rt.Health.Healthz)
	r.Get("/readyz", rt.Health.Readyz)
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Base(rt.Pipeline)...)

		r.Post("/auth/register", rt.Auth.Register)
		r.Post("/auth/login", rt.Auth.Login)
		r.Post("/auth/refresh", rt.Auth.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Protected(rt.Pipeline, false)...)

			r.Post("/auth/logout", rt.Auth.Logout)
			r.Get("/me", rt.Auth.Me)
			r.With(middleware.RequireTier(model.TierPro)).Get("/me/usage/export", rt.Auth.ExportUsage)

			r.Route("/api-keys", func(r chi.Router) {
				r.Get("/", rt.APIKeys.List)
				r.Post("/", rt.APIKeys.Create)
				r.Delete("/{id}", rt.APIKeys.Revoke)
			})
		})
	})

	return r
}
