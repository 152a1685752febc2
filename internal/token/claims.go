package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/calebmills99/guardrV6/internal/model"
)

// Token types carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// AccessClaims are the claims of a short-lived access token.
// Tier is a snapshot taken at issuance.
type AccessClaims struct {
	Email string     `json:"email"`
	Tier  model.Tier `json:"tier"`
	Type  string     `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims of a long-lived refresh token.
type RefreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Identity converts verified access claims into the request identity.
func (c *AccessClaims) Identity() *model.Identity {
	id := &model.Identity{
		Source:  model.IdentitySourceToken,
		UserID:  c.Subject,
		Email:   c.Email,
		Tier:    c.Tier,
		TokenID: c.ID,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// Pair is an access token issued together with its refresh token.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
