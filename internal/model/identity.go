package model

import "time"

// IdentitySource identifies how a request authenticated.
// The set is closed: a session token or an API key.
type IdentitySource string

// Identity sources.
const (
	IdentitySourceToken  IdentitySource = "token"
	IdentitySourceAPIKey IdentitySource = "api_key"
)

// Identity is the authenticated principal injected into the request context.
// Downstream code consumes it uniformly regardless of Source.
type Identity struct {
	Source IdentitySource
	UserID string
	Email  string
	Tier   Tier

	// TokenID and ExpiresAt are set for token identities.
	TokenID   string
	ExpiresAt time.Time

	// KeyID and KeyPrefix are set for API key identities.
	KeyID     string
	KeyPrefix string
}

// IsToken reports whether the identity came from a session token.
func (i *Identity) IsToken() bool {
	return i.Source == IdentitySourceToken
}

// IsAPIKey reports whether the identity came from an API key.
func (i *Identity) IsAPIKey() bool {
	return i.Source == IdentitySourceAPIKey
}

// RateLimitKey returns the admission-control key for the identity.
func (i *Identity) RateLimitKey() string {
	return "user:" + i.UserID
}
