package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/metrics"
	"github.com/calebmills99/guardrV6/internal/model"
	"github.com/calebmills99/guardrV6/internal/token"
)

// APIKeyHeader carries an API key.
const APIKeyHeader = "X-API-Key"

// TokenVerifier verifies access tokens. *token.Service implements it.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, tok string) (*token.AccessClaims, error)
}

// KeyAuthenticator resolves API keys. *service.APIKeyService implements it.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, plaintext string) (*model.APIKey, *model.User, error)
	Identity(key *model.APIKey, owner *model.User) *model.Identity
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger  *slog.Logger
	Tokens  TokenVerifier
	APIKeys KeyAuthenticator
	Metrics metrics.Recorder
	// Optional lets requests without credentials through anonymously.
	// Credentials that are present must still be valid.
	Optional bool
}

type credential struct {
	method string
	value  string
}

// Authenticate resolves the request's credential to a *model.Identity and
// stores it in the request context. A bearer token shaped like a JWT goes
// to the token verifier; X-API-Key or any other bearer value is treated as
// an API key. Every failure gets the same 401 response.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := extractCredential(r)
			if !ok {
				if cfg.Optional {
					next.ServeHTTP(w, r)
					return
				}
				logAuthFailure(cfg.Logger, r, "", "missing_credential")
				writeUnauthorized(w)
				return
			}

			identity := cfg.resolve(r.Context(), cred)
			if identity == nil {
				cfg.Metrics.IncAuthAttempt(cred.method, metrics.ResultFailure)
				logAuthFailure(cfg.Logger, r, cred.method, "invalid_credential")
				writeUnauthorized(w)
				return
			}
			cfg.Metrics.IncAuthAttempt(cred.method, metrics.ResultSuccess)

			cfg.Logger.Debug("authentication successful",
				slog.String("method", cred.method),
				slog.String("user_id", identity.UserID),
				slog.String("key_prefix", identity.KeyPrefix),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (cfg AuthConfig) resolve(ctx context.Context, cred credential) *model.Identity {
	switch cred.method {
	case metrics.MethodToken:
		if cfg.Tokens == nil {
			return nil
		}
		claims, err := cfg.Tokens.VerifyAccess(ctx, cred.value)
		if err != nil {
			return nil
		}
		return claims.Identity()
	case metrics.MethodAPIKey:
		if cfg.APIKeys == nil {
			return nil
		}
		key, owner, err := cfg.APIKeys.Authenticate(ctx, cred.value)
		if err != nil {
			return nil
		}
		return cfg.APIKeys.Identity(key, owner)
	}
	return nil
}

// extractCredential reads X-API-Key first, then Authorization: Bearer.
func extractCredential(r *http.Request) (credential, bool) {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return credential{method: metrics.MethodAPIKey, value: key}, true
	}

	header := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return credential{}, false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return credential{}, false
	}
	if looksLikeJWT(value) {
		return credential{method: metrics.MethodToken, value: value}, true
	}
	return credential{method: metrics.MethodAPIKey, value: value}, true
}

// looksLikeJWT reports whether s has the three dot-separated segments of a
// compact JWS. API keys are base64url and never contain dots.
func looksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

func logAuthFailure(logger *slog.Logger, r *http.Request, method, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("method", method),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}
