package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/calebmills99/guardrV6/internal/apperror"
	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/handler/dto"
	"github.com/calebmills99/guardrV6/internal/middleware"
	"github.com/calebmills99/guardrV6/internal/service"
	"github.com/calebmills99/guardrV6/internal/usage"
)

// AuthHandler handles account and session endpoints.
type AuthHandler struct {
	svc    *service.AuthService
	usage  *usage.Tracker
	logger *slog.Logger
	now    func() time.Time
}

// AuthHandlerOption configures an AuthHandler.
type AuthHandlerOption func(*AuthHandler)

// WithUsage reports the caller's monthly usage on /me and enables the
// usage export.
func WithUsage(tracker *usage.Tracker) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.usage = tracker
	}
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger, opts ...AuthHandlerOption) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &AuthHandler{svc: svc, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	session, err := h.svc.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	session, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req dto.RefreshRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// Logout handles POST /api/v1/auth/logout. Requires authentication.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req dto.LogoutRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	identity := auth.MustIdentityFromContext(r.Context())
	if err := h.svc.Logout(r.Context(), identity, req.RefreshToken); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/me. Requires authentication.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustIdentityFromContext(r.Context())

	user, err := h.svc.Profile(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := dto.MeResponse{UserProfile: user.ToProfile()}
	if h.usage != nil {
		stats, err := h.usage.Stats(r.Context(), user.ID, user.Tier)
		if err != nil {
			h.logger.Warn("usage stats unavailable",
				"error", err,
				"request_id", middleware.GetRequestID(r.Context()),
				"user_id", user.ID,
			)
		} else {
			resp.Usage = stats
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportUsage handles GET /api/v1/me/usage/export. It is mounted behind a
// tier gate and returns the month's usage as a JSON attachment.
func (h *AuthHandler) ExportUsage(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustIdentityFromContext(r.Context())
	if h.usage == nil {
		middleware.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
		return
	}

	stats, err := h.usage.Stats(r.Context(), identity.UserID, identity.Tier)
	if err != nil {
		writeServiceError(w, r, h.logger, apperror.Internal(err))
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="usage-%s.json"`, stats.CurrentMonth))
	writeJSON(w, http.StatusOK, dto.UsageExport{
		UserID:     identity.UserID,
		ExportedAt: h.now().UTC(),
		Format:     "json",
		Usage:      *stats,
	})
}

func toSessionResponse(s *service.Session) dto.SessionResponse {
	return dto.SessionResponse{
		User: s.User.ToProfile(),
		Pair: s.Tokens,
	}
}
