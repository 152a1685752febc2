package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/usage"
)

// Usage counts authenticated requests per user and route once the handler
// has returned. The count is recorded asynchronously and never delays or
// fails the response. A nil tracker disables the stage.
func Usage(tracker *usage.Tracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tracker == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			identity := auth.IdentityFromContext(r.Context())
			if identity == nil {
				return
			}
			tracker.Record(r.Context(), identity.UserID, endpointName(r))
		})
	}
}

// endpointName prefers the matched route pattern so path parameters do not
// fan out into one counter per id.
func endpointName(r *http.Request) string {
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			route = pattern
		}
	}
	return r.Method + " " + route
}
