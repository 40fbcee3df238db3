// Package token issues and validates the signed access and refresh tokens.
// Tokens are Ed25519-signed JWTs; claims are never persisted - they are
// derived, signed, and verified on the fly.
package token

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Token type claim values. An access token must never be accepted where a
// refresh token is required, and vice versa.
const (
	TypeAccess  = "access_token"
	TypeRefresh = "refresh_token"
)

// Claims carries the registered JWT claims plus the fields this server
// issues on every token.
type Claims struct {
	// ClientID is the OAuth client the token was issued to.
	ClientID string `json:"client_id"`

	// Scope is the space-delimited granted scope string.
	Scope string `json:"scope,omitempty"`

	// TokenType distinguishes access tokens from refresh tokens.
	TokenType string `json:"token_type"`

	// FamilyID ties a refresh token to its rotation chain. Replay of a
	// rotated token revokes the whole family. Empty on access tokens.
	FamilyID string `json:"fid,omitempty"`

	// Generation counts rotations within a family, starting at 0.
	Generation int `json:"gen,omitempty"`

	jwt.RegisteredClaims
}

// Scopes returns the scope claim parsed into individual scope strings.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}
