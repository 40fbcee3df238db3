package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Reason classifies why a token failed validation. Callers map every reason
// to an authentication failure; the distinction exists for audit logs and
// metrics, not for the error body returned to clients.
type Reason string

const (
	ReasonMalformed      Reason = "malformed"
	ReasonBadSignature   Reason = "bad_signature"
	ReasonExpired        Reason = "expired"
	ReasonWrongAudience  Reason = "wrong_audience"
	ReasonWrongIssuer    Reason = "wrong_issuer"
	ReasonWrongTokenType Reason = "wrong_token_type"
)

// ValidationError reports a token validation failure with a typed reason.
type ValidationError struct {
	Reason Reason
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token validation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("token validation failed (%s)", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator verifies and decodes signed tokens. It checks the signature
// against the server's public key, the issuer, the audience, expiry (with a
// clock skew leeway), and the token_type claim.
//
// Validator never consults the revocation store: access tokens are
// intentionally short-lived, and the issuer checks revocation explicitly for
// refresh tokens.
type Validator struct {
	issuer   string
	audience string
	key      ed25519.PublicKey
	leeway   time.Duration
}

// NewValidator creates a Validator. leeway is the clock skew grace period
// applied to exp/iat checks.
func NewValidator(issuer, audience string, key ed25519.PublicKey, leeway time.Duration) (*Validator, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key")
	}
	if audience == "" {
		audience = issuer
	}
	return &Validator{
		issuer:   issuer,
		audience: audience,
		key:      key,
		leeway:   leeway,
	}, nil
}

// Validate parses and verifies a compact token and checks that its
// token_type claim equals expectType (TypeAccess or TypeRefresh).
func (v *Validator) Validate(tokenString, expectType string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, &ValidationError{Reason: classify(err), Err: err}
	}

	if claims.TokenType != expectType {
		return nil, &ValidationError{
			Reason: ReasonWrongTokenType,
			Err:    fmt.Errorf("expected %s, got %s", expectType, claims.TokenType),
		}
	}

	return claims, nil
}

// classify maps jwt/v5 sentinel errors to typed reasons.
func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonWrongAudience
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonWrongIssuer
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonBadSignature
	default:
		return ReasonMalformed
	}
}
