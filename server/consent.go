package server

import (
	"context"
	"errors"
	"net/url"

	"github.com/giantswarm/mcp-auth/authz"
	"github.com/giantswarm/mcp-auth/storage"
)

// ConsentDecision carries a user's decision from the consent page back into
// the flow, together with the authorization request it answers.
type ConsentDecision struct {
	Request   *AuthorizationRequest
	SessionID string
	CSRFToken string
	Subject   string
	Approved  bool
}

// IssueConsentToken mints a CSRF token bound to the user's session for the
// consent form. The token is single-use and expires with CSRFTokenTTL.
func (s *Server) IssueConsentToken(ctx context.Context, sessionID string) (string, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	tok, err := s.consents.IssueCSRFToken(storeCtx, sessionID)
	if err != nil {
		return "", mapStorageError(err, ErrServerError("failed to issue consent token"))
	}
	return tok, nil
}

// HandleConsentDecision processes an approve or deny decision and returns the
// redirect URL to send the user agent to. The CSRF token is consumed before
// anything else happens; a forged or replayed form never reaches code
// issuance.
func (s *Server) HandleConsentDecision(ctx context.Context, decision *ConsentDecision) (string, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	if err := s.consents.ConsumeCSRFToken(storeCtx, decision.CSRFToken, decision.SessionID); err != nil {
		cancel()
		if errors.Is(err, storage.ErrUnavailable) {
			return "", ErrTemporarilyUnavailable("consent state is temporarily unavailable")
		}
		if s.auditAllowed(decision.SessionID) {
			s.Auditor.LogAuthFailure(decision.Subject, decision.Request.ClientID, "invalid_consent_csrf_token")
		}
		return "", &authz.AuthenticationError{Reason: "invalid_consent_csrf_token", Err: err}
	}
	cancel()

	// The redirect target is only trusted after the request re-validates.
	client, err := s.ValidateAuthorizationRequest(ctx, decision.Request)
	if err != nil {
		var oautherr *OAuthError
		if errors.As(err, &oautherr) && client == nil {
			// Client or redirect URI failed validation; never redirect.
			return "", err
		}
		if errors.As(err, &oautherr) {
			return errorRedirect(decision.Request, oautherr), nil
		}
		return "", err
	}

	s.Auditor.LogConsentDecision(decision.Subject, decision.Request.ClientID, decision.Request.Scope, decision.Approved)

	if !decision.Approved {
		return errorRedirect(decision.Request, ErrAccessDenied("user denied the authorization request")), nil
	}

	code, err := s.IssueAuthorizationCode(ctx, decision.Request, decision.Subject)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("code", code)
	q.Set("state", decision.Request.State)
	return appendQuery(decision.Request.RedirectURI, q), nil
}

// errorRedirect builds the error redirect for a validated redirect URI.
func errorRedirect(req *AuthorizationRequest, oautherr *OAuthError) string {
	q := url.Values{}
	q.Set("error", oautherr.Code)
	if oautherr.Description != "" {
		q.Set("error_description", oautherr.Description)
	}
	if req.State != "" {
		q.Set("state", req.State)
	}
	return appendQuery(req.RedirectURI, q)
}

// appendQuery merges params into a redirect URI, preserving any query the
// client registered.
func appendQuery(redirectURI string, params url.Values) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		// Validated upstream; fall back to naive append.
		return redirectURI + "?" + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
