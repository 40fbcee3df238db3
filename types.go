package auth

import "github.com/giantswarm/mcp-auth/server"

// TokenResponse is the token endpoint success body.
type TokenResponse = server.TokenGrant

// ErrorResponse is the standard OAuth error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// consentDecisionRequest is the JSON body of the consent decision endpoint.
type consentDecisionRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	Approved            bool   `json:"approved"`
	CSRFToken           string `json:"csrf_token"`
}

// consentDecisionResponse carries the redirect target back to the consent UI.
type consentDecisionResponse struct {
	RedirectURL string `json:"redirect_url"`
}
