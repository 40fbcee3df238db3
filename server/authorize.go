package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/mcp-auth/storage"
)

// AuthorizationRequest carries the parameters of a GET /authorize request.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizationRequest checks an authorization request before any
// consent is shown. It returns the resolved client on success. Errors are
// *OAuthError; the caller must NOT redirect them to the client when the
// client or redirect URI itself failed validation.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (*storage.Client, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		return nil, mapStorageError(err, ErrServerError("failed to resolve client"))
	}

	if err := s.validateRedirectURI(client, req.RedirectURI); err != nil {
		return nil, ErrInvalidRedirectURI(err.Error())
	}

	// Redirect URI is now trusted; remaining failures may be redirected back.
	if req.ResponseType != "code" {
		return client, ErrInvalidRequest(fmt.Sprintf("unsupported response_type: %s", req.ResponseType))
	}

	if err := s.validateStateParameter(req.State); err != nil {
		return client, ErrInvalidRequest(err.Error())
	}

	if err := s.validateScopes(req.Scope); err != nil {
		return client, ErrInvalidScope(err.Error())
	}
	if err := s.validateClientScopes(req.Scope, client.Scopes); err != nil {
		return client, ErrInvalidScope(err.Error())
	}

	if req.CodeChallenge == "" {
		if s.Config.RequirePKCE {
			return client, ErrInvalidRequest("code_challenge is required (PKCE)")
		}
	} else {
		if err := s.validateChallengeMethod(req.CodeChallengeMethod); err != nil {
			return client, ErrInvalidRequest(err.Error())
		}
		if len(req.CodeChallenge) < MinCodeVerifierLength || len(req.CodeChallenge) > MaxCodeVerifierLength {
			return client, ErrInvalidRequest("code_challenge has invalid length")
		}
	}

	return client, nil
}

// IssueAuthorizationCode mints a single-use authorization code for subject
// after consent was granted. The returned code is bound to the client, the
// exact redirect URI, the approved scope, and the PKCE challenge.
func (s *Server) IssueAuthorizationCode(ctx context.Context, req *AuthorizationRequest, subject string) (string, error) {
	if subject == "" {
		return "", ErrServerError("cannot issue code without an authenticated subject")
	}

	now := time.Now()
	rec := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Subject:             subject,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.codes.Save(storeCtx, rec); err != nil {
		s.Logger.Error("Failed to store authorization code",
			"client_id", req.ClientID,
			"error", err)
		return "", mapStorageError(err, ErrServerError("failed to store authorization code"))
	}

	s.Logger.Info("Authorization code issued",
		"client_id", req.ClientID,
		"scope", req.Scope,
		"code_prefix", safeTruncate(rec.Code, 8))

	return rec.Code, nil
}
