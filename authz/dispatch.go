package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-auth/security"
	"github.com/giantswarm/mcp-auth/token"
)

// Credential carriers, checked in this precedence order.
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
	HeaderDeviceID      = "X-Device-ID"
	DeviceCookieName    = "device_id"

	bearerPrefix = "bearer "
)

// errAuthenticationRequired is the terminal error for requests that carry no
// credential at all.
var errAuthenticationRequired = errors.New("Authentication required")

// AccessTokenValidator verifies a compact access token. Satisfied by
// *token.Validator.
type AccessTokenValidator interface {
	Validate(tokenString, expectType string) (*token.Claims, error)
}

// KeyStore resolves API keys. It is an external collaborator: this package
// never sees how keys are stored or hashed.
type KeyStore interface {
	// Lookup returns the key's identifier and permission patterns, or an
	// error when the key is unknown or disabled.
	Lookup(ctx context.Context, apiKey string) (keyID string, permissions []string, err error)
}

// DeviceVerifier verifies legacy device credentials. External collaborator.
type DeviceVerifier interface {
	// Verify returns the user the device is registered to, or an error.
	Verify(ctx context.Context, deviceID string) (userID string, err error)
}

// Dispatcher inspects an inbound request's credentials, selects exactly one
// authentication method, and produces a Context. Selection happens on
// credential presence: once a method is chosen, failure within it is
// terminal - the dispatcher never falls back to a weaker method.
type Dispatcher struct {
	validator AccessTokenValidator
	keys      KeyStore
	devices   DeviceVerifier
	auditor   *security.Auditor
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. keys and devices may be nil when the
// deployment does not support those methods; requests presenting such
// credentials are then rejected rather than downgraded.
func NewDispatcher(validator AccessTokenValidator, keys KeyStore, devices DeviceVerifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		validator: validator,
		keys:      keys,
		devices:   devices,
		logger:    logger,
	}
}

// SetAuditor sets the security auditor for authentication events.
func (d *Dispatcher) SetAuditor(aud *security.Auditor) {
	d.auditor = aud
}

// Authenticate resolves the request's credentials into a Context, or an
// AuthenticationError. With no credential present at all the error reads
// "Authentication required".
func (d *Dispatcher) Authenticate(r *http.Request) (Context, error) {
	ctx := r.Context()

	if authHeader := r.Header.Get(HeaderAuthorization); authHeader != "" {
		if strings.HasPrefix(strings.ToLower(authHeader), bearerPrefix) {
			return d.authenticateBearer(strings.TrimSpace(authHeader[len(bearerPrefix):]))
		}
		// Authorization schemes other than Bearer are not credentials for
		// this dispatcher; fall through to the remaining carriers.
		d.logger.Debug("Ignoring non-Bearer authorization header")
	}

	if apiKey := r.Header.Get(HeaderAPIKey); apiKey != "" {
		return d.authenticateAPIKey(ctx, apiKey)
	}

	if deviceID := extractDeviceID(r); deviceID != "" {
		return d.authenticateDevice(ctx, deviceID)
	}

	return nil, &AuthenticationError{Method: MethodNone, Reason: "missing_credentials", Err: errAuthenticationRequired}
}

func (d *Dispatcher) authenticateBearer(raw string) (Context, error) {
	claims, err := d.validator.Validate(raw, token.TypeAccess)
	if err != nil {
		reason := "invalid_token"
		var verr *token.ValidationError
		if errors.As(err, &verr) {
			reason = string(verr.Reason)
		}
		d.logFailure(MethodOAuth, reason)
		return nil, &AuthenticationError{Method: MethodOAuth, Reason: reason, Err: err}
	}

	return OAuthContext{
		UserID:   claims.Subject,
		ClientID: claims.ClientID,
		Scopes:   claims.Scopes(),
	}, nil
}

func (d *Dispatcher) authenticateAPIKey(ctx context.Context, apiKey string) (Context, error) {
	if d.keys == nil {
		d.logFailure(MethodAPIKey, "api_key_auth_disabled")
		return nil, &AuthenticationError{Method: MethodAPIKey, Reason: "api_key_auth_disabled"}
	}

	keyID, permissions, err := d.keys.Lookup(ctx, apiKey)
	if err != nil {
		d.logFailure(MethodAPIKey, "invalid_api_key")
		return nil, &AuthenticationError{Method: MethodAPIKey, Reason: "invalid_api_key", Err: err}
	}

	wildcard := false
	for _, p := range permissions {
		if p == WildcardPermission {
			wildcard = true
			break
		}
	}

	return APIKeyContext{KeyID: keyID, Permissions: permissions, Wildcard: wildcard}, nil
}

func (d *Dispatcher) authenticateDevice(ctx context.Context, deviceID string) (Context, error) {
	if d.devices == nil {
		d.logFailure(MethodMAC, "device_auth_disabled")
		return nil, &AuthenticationError{Method: MethodMAC, Reason: "device_auth_disabled"}
	}

	userID, err := d.devices.Verify(ctx, deviceID)
	if err != nil {
		d.logFailure(MethodMAC, "invalid_device_credential")
		return nil, &AuthenticationError{Method: MethodMAC, Reason: "invalid_device_credential", Err: err}
	}

	return MACContext{UserID: userID, DeviceID: deviceID}, nil
}

func (d *Dispatcher) logFailure(method Method, reason string) {
	d.logger.Debug("Authentication failed", "method", string(method), "reason", reason)
	if d.auditor != nil {
		d.auditor.LogAuthFailure("", "", string(method)+": "+reason)
	}
}

// extractDeviceID reads the device credential from header or cookie.
func extractDeviceID(r *http.Request) string {
	if id := r.Header.Get(HeaderDeviceID); id != "" {
		return id
	}
	if c, err := r.Cookie(DeviceCookieName); err == nil {
		return c.Value
	}
	return ""
}
