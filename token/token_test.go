package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/mcp-auth/internal/testutil"
)

func newTestSigner(t *testing.T) (*Signer, *Validator) {
	t.Helper()

	pub, priv, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}

	signer, err := NewSigner("https://auth.example.com", "", priv, time.Hour, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	validator, err := NewValidator("https://auth.example.com", "", pub, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return signer, validator
}

func TestAccessTokenRoundTrip(t *testing.T) {
	signer, validator := newTestSigner(t)

	signed, issued, err := signer.SignAccessToken("user-1", "client-1", "mcp:read mcp:write")
	if err != nil {
		t.Fatalf("failed to sign access token: %v", err)
	}
	if issued.ID == "" {
		t.Error("expected a jti on issued claims")
	}

	claims, err := validator.Validate(signed, TypeAccess)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	if claims.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", claims.Subject)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("client_id = %q, want client-1", claims.ClientID)
	}
	if claims.TokenType != TypeAccess {
		t.Errorf("token_type = %q, want %q", claims.TokenType, TypeAccess)
	}
	scopes := claims.Scopes()
	if len(scopes) != 2 || scopes[0] != "mcp:read" || scopes[1] != "mcp:write" {
		t.Errorf("scopes = %v, want [mcp:read mcp:write]", scopes)
	}
}

func TestRefreshTokenCarriesFamily(t *testing.T) {
	signer, validator := newTestSigner(t)

	signed, _, err := signer.SignRefreshToken("user-1", "client-1", "mcp:read", "family-abc", 3)
	if err != nil {
		t.Fatalf("failed to sign refresh token: %v", err)
	}

	claims, err := validator.Validate(signed, TypeRefresh)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.FamilyID != "family-abc" {
		t.Errorf("family id = %q, want family-abc", claims.FamilyID)
	}
	if claims.Generation != 3 {
		t.Errorf("generation = %d, want 3", claims.Generation)
	}
}

func TestRefreshTokenRequiresFamily(t *testing.T) {
	signer, _ := newTestSigner(t)

	if _, _, err := signer.SignRefreshToken("user-1", "client-1", "mcp:read", "", 0); err == nil {
		t.Fatal("expected error signing refresh token without family id")
	}
}

func TestValidateRejectsWrongTokenType(t *testing.T) {
	signer, validator := newTestSigner(t)

	access, _, err := signer.SignAccessToken("user-1", "client-1", "mcp:read")
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	_, err = validator.Validate(access, TypeRefresh)
	assertReason(t, err, ReasonWrongTokenType)

	refresh, _, err := signer.SignRefreshToken("user-1", "client-1", "mcp:read", "fam", 0)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	_, err = validator.Validate(refresh, TypeAccess)
	assertReason(t, err, ReasonWrongTokenType)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	pub, priv, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	validator, err := NewValidator("https://auth.example.com", "", pub, 0)
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	// Hand-craft a token whose exp is in the past but whose signature is valid.
	claims := &Claims{
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://auth.example.com",
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"https://auth.example.com"},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ID:        "expired-jti",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	_, err = validator.Validate(signed, TypeAccess)
	assertReason(t, err, ReasonExpired)
}

func TestValidateHonorsClockSkewLeeway(t *testing.T) {
	pub, priv, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := NewSigner("https://auth.example.com", "", priv, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	// Back-date issuance so the token sits 2s past exp at validation time.
	clock := testutil.NewMockTime(time.Now().Add(-time.Minute - 2*time.Second))
	signer.now = clock.Now

	signed, _, err := signer.SignAccessToken("user-1", "client-1", "mcp:read")
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	lenient, err := NewValidator("https://auth.example.com", "", pub, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	if _, err := lenient.Validate(signed, TypeAccess); err != nil {
		t.Fatalf("token inside the leeway window rejected: %v", err)
	}

	strict, err := NewValidator("https://auth.example.com", "", pub, 0)
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	_, err = strict.Validate(signed, TypeAccess)
	assertReason(t, err, ReasonExpired)
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	signer, _ := newTestSigner(t)
	_, validator := newTestSigner(t) // different key pair

	signed, _, err := signer.SignAccessToken("user-1", "client-1", "mcp:read")
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	if _, err := validator.Validate(signed, TypeAccess); err == nil {
		t.Fatal("expected validation to fail for a foreign signature")
	}
}

func TestValidateRejectsWrongAudience(t *testing.T) {
	pub, priv, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	signer, err := NewSigner("https://auth.example.com", "https://other.example.com", priv, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	validator, err := NewValidator("https://auth.example.com", "", pub, 0)
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	signed, _, err := signer.SignAccessToken("user-1", "client-1", "mcp:read")
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	_, err = validator.Validate(signed, TypeAccess)
	assertReason(t, err, ReasonWrongAudience)
}

func TestValidateRejectsMalformedToken(t *testing.T) {
	_, validator := newTestSigner(t)

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := validator.Validate(tok, TypeAccess)
		if err == nil {
			t.Errorf("expected error for token %q", tok)
		}
	}
}

func assertReason(t *testing.T, err error, want Reason) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if verr.Reason != want {
		t.Errorf("reason = %q, want %q", verr.Reason, want)
	}
}
