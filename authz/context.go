// Package authz resolves request credentials into a typed authentication
// context and decides which tools a context may invoke.
package authz

import "fmt"

// Method identifies how a request authenticated. Exactly one method is
// selected per request, by credential presence, in fixed precedence order.
type Method string

const (
	MethodOAuth  Method = "oauth"
	MethodAPIKey Method = "api_key"
	MethodMAC    Method = "mac"
	MethodNone   Method = "none"
)

// Context is the tagged authentication context produced by the Dispatcher.
// Exactly one variant exists per request: OAuthContext, APIKeyContext, or
// MACContext.
type Context interface {
	// Method returns the authentication method that produced this context.
	Method() Method
}

// OAuthContext is the context for Bearer-token requests. Permissions are
// always derived from Scopes at check time; they are never stored
// independently.
type OAuthContext struct {
	UserID   string
	ClientID string
	Scopes   []string
}

func (OAuthContext) Method() Method { return MethodOAuth }

// APIKeyContext is the context for API-key requests. A key either carries an
// explicit permission set or the wildcard, which grants every tool.
type APIKeyContext struct {
	KeyID       string
	Permissions []string
	Wildcard    bool
}

func (APIKeyContext) Method() Method { return MethodAPIKey }

// MACContext is the context for device-credential requests. Devices are
// restricted to a fixed legacy-allowed tool set.
type MACContext struct {
	UserID   string
	DeviceID string
}

func (MACContext) Method() Method { return MethodMAC }

// AuthenticationError reports a missing, malformed, expired, or badly signed
// credential. Maps to HTTP 401. Method records which authentication method
// rejected the request (MethodNone when no credential was present).
type AuthenticationError struct {
	Method Method
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AuthorizationError reports a valid identity with insufficient permission
// for the requested tool. Maps to HTTP 403.
type AuthorizationError struct {
	Tool   string
	Method Method
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("access to tool %q denied for %s principal", e.Tool, e.Method)
}
