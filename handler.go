package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/giantswarm/mcp-auth/authz"
	"github.com/giantswarm/mcp-auth/server"
)

// Endpoint paths registered by RegisterRoutes.
const (
	PathAuthorize = "/authorize"
	PathConsent   = "/consent"
	PathToken     = "/token"
	PathRevoke    = "/revoke"
)

// SessionResolver resolves the authenticated end user behind a browser
// request. It is an external identity collaborator; this package never
// performs primary user authentication itself.
type SessionResolver interface {
	// Resolve returns the authenticated subject and an opaque session
	// identifier, or an error when the request carries no valid session.
	Resolve(r *http.Request) (subject, sessionID string, err error)
}

// ConsentPrompter renders the consent UI and remembers prior approvals.
// External collaborator; the handler only decides when to invoke it.
type ConsentPrompter interface {
	// HasConsent reports whether subject already approved clientID for scope.
	HasConsent(ctx context.Context, subject, clientID, scope string) bool

	// Prompt renders the consent page carrying the request parameters and
	// the single-use CSRF token the decision must echo back.
	Prompt(w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest, csrfToken string)
}

// Handler is a thin HTTP adapter for the authorization Server.
// It parses requests, delegates to the Server for all decisions, and renders
// standard OAuth responses.
type Handler struct {
	server     *server.Server
	dispatcher *authz.Dispatcher
	authorizer *authz.ScopeAuthorizer
	sessions   SessionResolver
	consent    ConsentPrompter
	logger     *slog.Logger
}

// NewHandler creates an HTTP handler around srv. sessions and consent are
// required for the authorization and consent endpoints; deployments that only
// serve the token endpoint may pass nil for both.
func NewHandler(srv *server.Server, dispatcher *authz.Dispatcher, authorizer *authz.ScopeAuthorizer, sessions SessionResolver, consent ConsentPrompter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server:     srv,
		dispatcher: dispatcher,
		authorizer: authorizer,
		sessions:   sessions,
		consent:    consent,
		logger:     logger,
	}
}

// RegisterRoutes registers the OAuth endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathAuthorize, h.ServeAuthorization)
	mux.HandleFunc(PathConsent, h.ServeConsentDecision)
	mux.HandleFunc(PathToken, h.ServeToken)
	mux.HandleFunc(PathRevoke, h.ServeTokenRevocation)
}

// ServeAuthorization handles GET /authorize. With prior consent on record it
// issues a code and redirects immediately; otherwise it hands off to the
// consent UI with a fresh CSRF token.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.sessions == nil || h.consent == nil {
		h.writeError(w, ErrorCodeServerError, "authorization endpoint is not configured", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	req := &server.AuthorizationRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	client, err := h.server.ValidateAuthorizationRequest(r.Context(), req)
	if err != nil {
		// Without a validated client and redirect URI the error must be shown
		// to the user agent directly, never redirected.
		if client == nil {
			h.writeOAuthError(w, err)
			return
		}
		h.redirectAuthError(w, r, req, err)
		return
	}

	subject, sessionID, err := h.sessions.Resolve(r)
	if err != nil {
		h.writeError(w, ErrorCodeInvalidToken, "Authentication required", http.StatusUnauthorized)
		return
	}

	if h.consent.HasConsent(r.Context(), subject, req.ClientID, req.Scope) {
		code, err := h.server.IssueAuthorizationCode(r.Context(), req, subject)
		if err != nil {
			h.writeOAuthError(w, err)
			return
		}
		redirect := req.RedirectURI
		sep := "?"
		if u, perr := url.Parse(redirect); perr == nil && u.RawQuery != "" {
			sep = "&"
		}
		v := url.Values{}
		v.Set("code", code)
		v.Set("state", req.State)
		http.Redirect(w, r, redirect+sep+v.Encode(), http.StatusFound)
		return
	}

	csrfToken, err := h.server.IssueConsentToken(r.Context(), sessionID)
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	h.consent.Prompt(w, r, req, csrfToken)
}

// ServeConsentDecision handles POST /consent with a JSON body. It returns
// {redirect_url} pointing back at the client, for both approvals and denials.
func (h *Handler) ServeConsentDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.sessions == nil {
		h.writeError(w, ErrorCodeServerError, "consent endpoint is not configured", http.StatusInternalServerError)
		return
	}

	var body consentDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	subject, sessionID, err := h.sessions.Resolve(r)
	if err != nil {
		h.writeError(w, ErrorCodeInvalidToken, "Authentication required", http.StatusUnauthorized)
		return
	}

	decision := &server.ConsentDecision{
		Request: &server.AuthorizationRequest{
			ResponseType:        "code",
			ClientID:            body.ClientID,
			RedirectURI:         body.RedirectURI,
			Scope:               body.Scope,
			State:               body.State,
			CodeChallenge:       body.CodeChallenge,
			CodeChallengeMethod: body.CodeChallengeMethod,
		},
		SessionID: sessionID,
		CSRFToken: body.CSRFToken,
		Subject:   subject,
		Approved:  body.Approved,
	}

	redirectURL, err := h.server.HandleConsentDecision(r.Context(), decision)
	if err != nil {
		var autherr *authz.AuthenticationError
		if errors.As(err, &autherr) {
			h.writeError(w, ErrorCodeInvalidRequest, "Invalid or expired consent token", http.StatusUnauthorized)
			return
		}
		h.writeOAuthError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, consentDecisionResponse{RedirectURL: redirectURL})
}

// ServeToken handles POST /token (form-encoded) for both grant types.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	req := &server.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
	}

	grant, err := h.server.Exchange(r.Context(), req)
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	// RFC 6749 section 5.1: token responses must not be cached.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	h.writeJSON(w, http.StatusOK, grant)
}

// ServeTokenRevocation handles POST /revoke (RFC 7009). The response is 200
// regardless of whether the token was live, so the endpoint cannot be used as
// a validity oracle.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	tok := r.PostFormValue("token")
	if tok == "" {
		h.writeError(w, ErrorCodeInvalidRequest, "token parameter is required", http.StatusBadRequest)
		return
	}

	client, err := h.server.AuthenticateTokenClient(r.Context(), r.PostFormValue("client_id"), r.PostFormValue("client_secret"))
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	if err := h.server.RevokeRefreshToken(r.Context(), client, tok); err != nil {
		h.writeOAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// contextKey is the private type for request-context values.
type contextKey struct{}

// authContextKey carries the resolved authz.Context through middleware.
var authContextKey contextKey

// ContextFrom extracts the authentication context placed by Authenticate.
// Returns nil when the request did not pass through the middleware.
func ContextFrom(ctx context.Context) authz.Context {
	ac, _ := ctx.Value(authContextKey).(authz.Context)
	return ac
}

// Authenticate wraps a protected-resource handler with credential dispatch.
// Unauthenticated requests get 401 with an OAuth error body; authenticated
// ones proceed with the authz.Context attached to the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := h.dispatcher.Authenticate(r)
		if err != nil {
			var autherr *authz.AuthenticationError
			reason := "Authentication required"
			method := authz.MethodNone
			if errors.As(err, &autherr) {
				if autherr.Err != nil {
					reason = autherr.Err.Error()
				}
				if autherr.Method != "" {
					method = autherr.Method
				}
			}
			h.server.Metrics.RecordAuthDecision(r.Context(), string(method), false)
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.writeError(w, ErrorCodeInvalidToken, reason, http.StatusUnauthorized)
			return
		}

		h.server.Metrics.RecordAuthDecision(r.Context(), string(ac.Method()), true)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authContextKey, ac)))
	})
}

// RequireTool gates a handler on authorization for the named tool. It must
// run inside Authenticate. Denials get 403; an absent authentication context
// gets 401 (fail closed, never assume the middleware ran).
func (h *Handler) RequireTool(tool string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := ContextFrom(r.Context())
		if ac == nil {
			h.writeError(w, ErrorCodeInvalidToken, "Authentication required", http.StatusUnauthorized)
			return
		}

		if !h.authorizer.HasPermission(ac, tool) {
			h.logger.Debug("Tool access denied",
				"tool", tool,
				"method", string(ac.Method()))
			h.writeError(w, "insufficient_scope", "Insufficient permissions for this tool", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// redirectAuthError sends an authorization error back to a validated
// redirect URI per RFC 6749 section 4.1.2.1.
func (h *Handler) redirectAuthError(w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest, err error) {
	var oautherr *OAuthError
	if !errors.As(err, &oautherr) {
		oautherr = ErrServerError("authorization failed")
	}

	u, perr := url.Parse(req.RedirectURI)
	if perr != nil {
		h.writeOAuthError(w, oautherr)
		return
	}
	q := u.Query()
	q.Set("error", oautherr.Code)
	q.Set("error_description", oautherr.Description)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// writeOAuthError renders an error from the server layer with its own HTTP
// status, falling back to 500 for unexpected error types.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	var oautherr *OAuthError
	if errors.As(err, &oautherr) {
		h.writeError(w, oautherr.Code, oautherr.Description, oautherr.Status)
		return
	}
	h.logger.Error("Unexpected error type from server", "error", err)
	h.writeError(w, ErrorCodeServerError, "internal error", http.StatusInternalServerError)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
