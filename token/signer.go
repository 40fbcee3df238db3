package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer mints signed access and refresh tokens with the server's key.
type Signer struct {
	issuer     string
	audience   string
	key        ed25519.PrivateKey
	accessTTL  time.Duration
	refreshTTL time.Duration

	// now is swappable for deterministic tests
	now func() time.Time
}

// NewSigner creates a Signer. issuer doubles as the default audience when
// audience is empty.
func NewSigner(issuer, audience string, key ed25519.PrivateKey, accessTTL, refreshTTL time.Duration) (*Signer, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key")
	}
	if audience == "" {
		audience = issuer
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Signer{
		issuer:     issuer,
		audience:   audience,
		key:        key,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (s *Signer) AccessTokenTTL() time.Duration { return s.accessTTL }

// RefreshTokenTTL returns the configured refresh token lifetime.
func (s *Signer) RefreshTokenTTL() time.Duration { return s.refreshTTL }

// SignAccessToken issues a short-lived access token for subject.
func (s *Signer) SignAccessToken(subject, clientID, scope string) (string, *Claims, error) {
	return s.sign(subject, clientID, scope, TypeAccess, "", 0, s.accessTTL)
}

// SignRefreshToken issues a refresh token carrying its rotation family and
// generation. The jti of the returned claims is the token's revocation key.
func (s *Signer) SignRefreshToken(subject, clientID, scope, familyID string, generation int) (string, *Claims, error) {
	if familyID == "" {
		return "", nil, fmt.Errorf("family id is required for refresh tokens")
	}
	return s.sign(subject, clientID, scope, TypeRefresh, familyID, generation, s.refreshTTL)
}

func (s *Signer) sign(subject, clientID, scope, tokenType, familyID string, generation int, ttl time.Duration) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		ClientID:   clientID,
		Scope:      scope,
		TokenType:  tokenType,
		FamilyID:   familyID,
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s: %w", tokenType, err)
	}
	return signed, claims, nil
}

// GenerateSigningKey creates a fresh Ed25519 key pair. Intended for tests and
// single-instance development; production deployments load a persisted key.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return pub, priv, nil
}
