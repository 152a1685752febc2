package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/model"
	"github.com/calebmills99/guardrV6/internal/ratelimit"
	"github.com/calebmills99/guardrV6/internal/repository"
	"github.com/calebmills99/guardrV6/internal/service"
	"github.com/calebmills99/guardrV6/internal/token"
)

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// authEnv wires real token and API key services over in-memory stores.
type authEnv struct {
	store   *repository.Memory
	tokens  *token.Service
	apiKeys *service.APIKeyService
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	store := repository.NewMemory()
	tokens, err := token.New(token.Config{
		AccessSecret:  "access-secret-access-secret-0123456789",
		RefreshSecret: "refresh-secret-refresh-secret-0123456789",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	}, token.NewMemoryStore(nil))
	require.NoError(t, err)

	apiKeys := service.NewAPIKeyService(store, service.APIKeyConfig{}, nil, nil)
	t.Cleanup(apiKeys.Wait)

	return &authEnv{store: store, tokens: tokens, apiKeys: apiKeys}
}

func (e *authEnv) user(t *testing.T, id string, tier model.Tier) *model.User {
	t.Helper()

	now := time.Now().UTC()
	u := &model.User{
		ID:        id,
		Email:     id + "@example.com",
		Tier:      tier,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

func (e *authEnv) accessToken(t *testing.T, u *model.User) string {
	t.Helper()

	pair, err := e.tokens.Issue(u)
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *authEnv) apiKey(t *testing.T, u *model.User) string {
	t.Helper()

	_, plaintext, err := e.apiKeys.Create(context.Background(), u.ID, "test", nil)
	require.NoError(t, err)
	return plaintext
}

// identityEcho writes the authenticated user id, or "anonymous".
var identityEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte(string(id.Source) + ":" + id.UserID))
})

// failingAdmitter simulates an unreachable distributed limiter.
type failingAdmitter struct{}

func (failingAdmitter) Admit(context.Context, string, ratelimit.Quota) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("dial tcp: connection refused")
}

func newFixedController(q ratelimit.Quota) *ratelimit.Controller {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return ratelimit.NewController(ratelimit.Config{Quota: q}, ratelimit.WithClock(func() time.Time { return now }))
}
