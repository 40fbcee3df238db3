package server

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/mcp-auth/security"
	"github.com/giantswarm/mcp-auth/storage"
	"github.com/giantswarm/mcp-auth/token"
)

// Grant type identifiers accepted by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenRequest carries the parsed parameters of a POST /token request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// TokenGrant is a successful token endpoint response.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// Exchange handles the token endpoint for both grant types. Errors are
// always *OAuthError so the transport layer can render the standard error
// body directly.
func (s *Server) Exchange(ctx context.Context, req *TokenRequest) (*TokenGrant, error) {
	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		var oautherr *OAuthError
		if errors.As(err, &oautherr) {
			s.Metrics.RecordGrantFailure(ctx, req.GrantType, oautherr.Code)
		}
		return nil, err
	}

	var grant *TokenGrant
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		grant, err = s.exchangeAuthorizationCode(ctx, client, req)
	case GrantTypeRefreshToken:
		grant, err = s.refreshTokens(ctx, client, req)
	case "":
		err = ErrInvalidRequest("grant_type is required")
	default:
		err = ErrUnsupportedGrantType("unsupported grant_type: " + req.GrantType)
	}

	if err != nil {
		var oautherr *OAuthError
		if errors.As(err, &oautherr) {
			s.Metrics.RecordGrantFailure(ctx, req.GrantType, oautherr.Code)
		}
		return nil, err
	}

	s.Metrics.RecordTokenIssued(ctx, req.GrantType)
	return grant, nil
}

// authenticateClient resolves the requesting client and, for confidential
// clients, verifies the presented secret. Public clients carry no secret and
// rely on PKCE.
func (s *Server) authenticateClient(ctx context.Context, req *TokenRequest) (*storage.Client, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidClient("client_id is required")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		return nil, mapStorageError(err, ErrServerError("failed to resolve client"))
	}

	if client.ClientSecretHash != "" {
		if req.ClientSecret == "" {
			return nil, ErrInvalidClient("client authentication required")
		}
		if err := s.clients.ValidateClientSecret(ctx, req.ClientID, req.ClientSecret); err != nil {
			if s.auditAllowed(req.ClientID) {
				s.Auditor.LogAuthFailure("", req.ClientID, "invalid_client_secret")
			}
			return nil, ErrInvalidClient("client authentication failed")
		}
	}

	return client, nil
}

// exchangeAuthorizationCode implements the authorization_code grant. All
// validation happens against the stored record before the consumed flag is
// flipped, so a rejected request leaves the code untouched; the flip itself
// is a compare-and-swap, so two concurrent exchanges produce exactly one
// winner.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenGrant, error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	storeCtx, cancel := s.storeCtx(ctx)
	rec, err := s.codes.Get(storeCtx, req.Code)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			return nil, ErrInvalidGrant("invalid or expired authorization code")
		}
		return nil, mapStorageError(err, ErrServerError("failed to load authorization code"))
	}

	grace := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	if security.IsExpiredWithGracePeriod(rec.ExpiresAt, grace) {
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}
	if rec.Consumed {
		s.logCodeReplay(rec)
		return nil, ErrInvalidGrant("authorization code already used")
	}

	if rec.ClientID != client.ClientID {
		if s.auditAllowed(client.ClientID) {
			s.Auditor.LogAuthFailure(rec.Subject, client.ClientID, "authorization_code_client_mismatch")
		}
		return nil, ErrInvalidGrant("authorization code was not issued to this client")
	}
	if rec.RedirectURI != req.RedirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if err := s.validatePKCE(rec.CodeChallenge, rec.CodeChallengeMethod, req.CodeVerifier); err != nil {
		s.Logger.Warn("PKCE verification failed",
			"client_id", client.ClientID,
			"code_prefix", safeTruncate(rec.Code, 8))
		return nil, ErrInvalidGrant(err.Error())
	}

	// All checks passed; consume the code. Exactly one concurrent exchange
	// can get past this point.
	storeCtx, cancel = s.storeCtx(ctx)
	rec, err = s.codes.Consume(storeCtx, req.Code)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrCodeConsumed) {
			s.logCodeReplay(rec)
			return nil, ErrInvalidGrant("authorization code already used")
		}
		if errors.Is(err, storage.ErrCodeNotFound) {
			return nil, ErrInvalidGrant("invalid or expired authorization code")
		}
		return nil, mapStorageError(err, ErrServerError("failed to consume authorization code"))
	}

	grant, err := s.issueTokenPair(rec.Subject, client.ClientID, rec.Scope, "", 0)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenIssued(rec.Subject, client.ClientID, rec.Scope, GrantTypeAuthorizationCode)
	s.Logger.Info("Token pair issued",
		"client_id", client.ClientID,
		"grant_type", GrantTypeAuthorizationCode,
		"scope", rec.Scope)

	return grant, nil
}

// refreshTokens implements the refresh_token grant with rotation. Revoking
// the presented token's jti is a setIfAbsent: the single caller that creates
// the entry wins and gets a fresh pair; everyone else observes the entry and
// fails. A reused token after rotation is treated as theft and revokes the
// whole token family.
func (s *Server) refreshTokens(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenGrant, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	claims, err := s.validator.Validate(req.RefreshToken, token.TypeRefresh)
	if err != nil {
		return nil, ErrInvalidGrant("invalid refresh token")
	}
	if claims.ClientID != client.ClientID {
		if s.auditAllowed(client.ClientID) {
			s.Auditor.LogAuthFailure(claims.Subject, client.ClientID, "refresh_token_client_mismatch")
		}
		return nil, ErrInvalidGrant("refresh token was not issued to this client")
	}
	if claims.FamilyID == "" {
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	familyRevoked, err := s.revocations.IsFamilyRevoked(storeCtx, claims.FamilyID)
	if err != nil {
		return nil, mapStorageError(err, ErrServerError("failed to check token state"))
	}
	if familyRevoked {
		s.logRefreshReuse(ctx, claims)
		return nil, ErrInvalidGrant("refresh token has been revoked")
	}

	// Rotation step: revoke the presented jti for its remaining lifetime.
	remaining := s.revocationTTL(claims.ExpiresAt.Time)
	won, err := s.revocations.Revoke(storeCtx, claims.ID, remaining)
	if err != nil {
		return nil, mapStorageError(err, ErrServerError("failed to rotate refresh token"))
	}
	if !won {
		// The jti was already revoked: either a concurrent refresh won the
		// race or a stolen token is being replayed. Both kill the family.
		if err := s.revocations.RevokeFamily(storeCtx, claims.FamilyID, remaining); err != nil {
			return nil, mapStorageError(err, ErrServerError("failed to revoke token family"))
		}
		s.logRefreshReuse(ctx, claims)
		return nil, ErrInvalidGrant("refresh token has been revoked")
	}

	grant, err := s.issueTokenPair(claims.Subject, client.ClientID, claims.Scope, claims.FamilyID, claims.Generation+1)
	if err != nil {
		return nil, err
	}

	s.Metrics.RecordTokenRotated(ctx)
	s.Auditor.LogTokenRefreshed(claims.Subject, client.ClientID, claims.Generation+1)
	s.Logger.Info("Refresh token rotated",
		"client_id", client.ClientID,
		"generation", claims.Generation+1)

	return grant, nil
}

// revocationTTL is how long a revocation entry must outlive the token: its
// remaining lifetime plus the validator's clock-skew grace. A token that
// still passes validation slightly past exp must not outlive its tombstone.
func (s *Server) revocationTTL(expiresAt time.Time) time.Duration {
	grace := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	return time.Until(expiresAt) + grace
}

// issueTokenPair signs a fresh access/refresh pair. An empty familyID starts
// a new family (authorization_code grant); a non-empty one continues an
// existing rotation chain.
func (s *Server) issueTokenPair(subject, clientID, scope, familyID string, generation int) (*TokenGrant, error) {
	if familyID == "" {
		familyID = generateRandomToken()
		generation = 0
	}

	accessToken, _, err := s.signer.SignAccessToken(subject, clientID, scope)
	if err != nil {
		s.Logger.Error("Failed to sign access token", "error", err)
		return nil, ErrServerError("failed to issue tokens")
	}

	refreshToken, _, err := s.signer.SignRefreshToken(subject, clientID, scope, familyID, generation)
	if err != nil {
		s.Logger.Error("Failed to sign refresh token", "error", err)
		return nil, ErrServerError("failed to issue tokens")
	}

	return &TokenGrant{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.signer.AccessTokenTTL().Seconds()),
		Scope:        scope,
	}, nil
}

// RevokeRefreshToken handles explicit revocation (RFC 7009 style). Revoking
// an already revoked or unknown token succeeds silently; the endpoint never
// confirms token validity to the caller.
func (s *Server) RevokeRefreshToken(ctx context.Context, client *storage.Client, refreshToken string) error {
	claims, err := s.validator.Validate(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil
	}
	if claims.ClientID != client.ClientID {
		return nil
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	remaining := s.revocationTTL(claims.ExpiresAt.Time)
	if _, err := s.revocations.Revoke(storeCtx, claims.ID, remaining); err != nil {
		return mapStorageError(err, ErrServerError("failed to revoke token"))
	}
	if claims.FamilyID != "" {
		if err := s.revocations.RevokeFamily(storeCtx, claims.FamilyID, remaining); err != nil {
			return mapStorageError(err, ErrServerError("failed to revoke token family"))
		}
	}

	s.Metrics.RecordTokenRevoked(ctx, token.TypeRefresh)
	s.Auditor.LogTokenRevoked(claims.Subject, client.ClientID, token.TypeRefresh)
	return nil
}

// AuthenticateTokenClient exposes client authentication for endpoints beyond
// the token grant (revocation).
func (s *Server) AuthenticateTokenClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	return s.authenticateClient(ctx, &TokenRequest{ClientID: clientID, ClientSecret: clientSecret})
}

func (s *Server) logCodeReplay(rec *storage.AuthorizationCode) {
	if rec == nil {
		return
	}
	s.Metrics.RecordReplayDetected(context.Background(), "authorization_code")
	if s.auditAllowed(rec.ClientID) {
		s.Auditor.LogTokenReuse(rec.Subject, rec.ClientID, "authorization_code")
	}
	s.Logger.Warn("Authorization code replay detected",
		"client_id", rec.ClientID,
		"code_prefix", safeTruncate(rec.Code, 8))
}

func (s *Server) logRefreshReuse(ctx context.Context, claims *token.Claims) {
	s.Metrics.RecordReplayDetected(ctx, "refresh_token")
	if s.auditAllowed(claims.ClientID) {
		s.Auditor.LogTokenReuse(claims.Subject, claims.ClientID, "refresh_token")
	}
	s.Logger.Warn("Refresh token reuse detected",
		"client_id", claims.ClientID,
		"family_generation", claims.Generation)
}
