package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/handler/dto"
	"github.com/calebmills99/guardrV6/internal/model"
	"github.com/calebmills99/guardrV6/internal/service"
)

// APIKeyHandler handles API key management endpoints.
type APIKeyHandler struct {
	svc    *service.APIKeyService
	logger *slog.Logger
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(svc *service.APIKeyService, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{svc: svc, logger: logger}
}

// Create handles POST /api/v1/api-keys.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustIdentityFromContext(r.Context())

	var req model.APIKeyCreateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	key, plaintext, err := h.svc.Create(r.Context(), identity.UserID, req.Name, req.ExpiresAt)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	// The plaintext is shown once only.
	writeJSON(w, http.StatusCreated, model.APIKeyCreateResponse{
		APIKeyResponse: key.ToResponse(),
		Key:            plaintext,
	})
}

// List handles GET /api/v1/api-keys.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustIdentityFromContext(r.Context())

	keys, err := h.svc.List(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := dto.APIKeyListResponse{Keys: make([]model.APIKeyResponse, 0, len(keys))}
	for _, k := range keys {
		resp.Keys = append(resp.Keys, k.ToResponse())
	}
	writeJSON(w, http.StatusOK, resp)
}

// Revoke handles DELETE /api/v1/api-keys/{id}.
// Keys of other users are reported as not found.
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustIdentityFromContext(r.Context())

	if err := h.svc.Revoke(r.Context(), identity.UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
