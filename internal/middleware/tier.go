package middleware

import (
	"fmt"
	"net/http"

	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/model"
)

// RequireTier rejects identities below min with 403.
// Must be applied after Authenticate; anonymous requests get 401.
func RequireTier(min model.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			if identity == nil {
				writeUnauthorized(w)
				return
			}

			if !identity.Tier.AtLeast(min) {
				WriteError(w, http.StatusForbidden, "INSUFFICIENT_TIER",
					fmt.Sprintf("This endpoint requires the %s tier or higher", min))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
