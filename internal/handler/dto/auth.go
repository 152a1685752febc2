// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/calebmills99/guardrV6/internal/model"
	"github.com/calebmills99/guardrV6/internal/token"
	"github.com/calebmills99/guardrV6/internal/usage"
)

// RegisterRequest represents the request body for creating an account.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// LoginRequest represents the request body for signing in.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries the refresh token to rotate.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest optionally carries the refresh token to revoke alongside
// the access token used to call logout.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	User model.UserProfile `json:"user"`
	token.Pair
}

// APIKeyListResponse lists a user's keys without secrets.
type APIKeyListResponse struct {
	Keys []model.APIKeyResponse `json:"keys"`
}

// MeResponse is the caller's profile with this month's usage when
// tracking is enabled.
type MeResponse struct {
	model.UserProfile
	Usage *usage.Stats `json:"usage_stats,omitempty"`
}

// UsageExport is the downloadable usage report.
type UsageExport struct {
	UserID     string      `json:"user_id"`
	ExportedAt time.Time   `json:"export_date"`
	Format     string      `json:"format"`
	Usage      usage.Stats `json:"usage"`
}
