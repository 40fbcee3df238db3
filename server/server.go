// Package server implements the OAuth 2.1 authorization server core: the
// authorization-code flow with mandatory PKCE, consent handling, token
// issuance with refresh rotation, and replay detection.
package server

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-auth/instrumentation"
	"github.com/giantswarm/mcp-auth/security"
	"github.com/giantswarm/mcp-auth/storage"
	"github.com/giantswarm/mcp-auth/token"
)

// safeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This prevents index out of bounds errors when logging.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the authorization and token lifecycle logic. It
// coordinates the client registry, the single-use code store, the revocation
// store, and the token signer; transport concerns live in the root package.
type Server struct {
	clients     storage.ClientStore
	kv          storage.KV
	codes       *storage.CodeStore
	revocations *storage.RevocationStore
	consents    *storage.ConsentStore

	signer    *token.Signer
	validator *token.Validator

	Auditor                  *security.Auditor
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Metrics                  *instrumentation.Metrics
	Logger                   *slog.Logger
	Config                   *Config
}

// New creates an authorization server. kv backs the code, revocation, and
// consent stores; signingKey is the Ed25519 key used for all issued tokens.
func New(
	clients storage.ClientStore,
	kv storage.KV,
	signingKey ed25519.PrivateKey,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if kv == nil {
		return nil, fmt.Errorf("key/value store is required")
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Apply secure defaults
	config = applySecureDefaults(config, logger)

	signer, err := token.NewSigner(
		config.Issuer,
		config.Audience,
		signingKey,
		time.Duration(config.AccessTokenTTL)*time.Second,
		time.Duration(config.RefreshTokenTTL)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token signer: %w", err)
	}

	validator, err := token.NewValidator(
		config.Issuer,
		config.Audience,
		signingKey.Public().(ed25519.PublicKey),
		time.Duration(config.ClockSkewGracePeriod)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}

	return &Server{
		clients:     clients,
		kv:          kv,
		codes:       storage.NewCodeStore(kv),
		revocations: storage.NewRevocationStore(kv),
		consents:    storage.NewConsentStore(kv, time.Duration(config.CSRFTokenTTL)*time.Second),
		signer:      signer,
		validator:   validator,
		Config:      config,
		Logger:      logger,
	}, nil
}

// Validator returns the access token validator bound to this server's key,
// for wiring into request authentication.
func (s *Server) Validator() *token.Validator {
	return s.validator
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents DoS attacks via log flooding from repeated security events
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetMetrics wires pre-built metric instruments into the grant paths and
// rebuilds the typed stores on an instrumented KV so every store round trip
// reports its latency and outcome.
func (s *Server) SetMetrics(m *instrumentation.Metrics) {
	s.Metrics = m
	kv := storage.InstrumentKV(s.kv, m)
	s.codes = storage.NewCodeStore(kv)
	s.revocations = storage.NewRevocationStore(kv)
	s.consents = storage.NewConsentStore(kv, time.Duration(s.Config.CSRFTokenTTL)*time.Second)
}

// storeCtx bounds a store round trip so a hung backend turns into a clean
// unavailable error instead of a stuck request.
func (s *Server) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(s.Config.StoreTimeout)*time.Second)
}

// auditAllowed rate-limits security event logging per identifier.
func (s *Server) auditAllowed(identifier string) bool {
	if s.SecurityEventRateLimiter == nil {
		return true
	}
	return s.SecurityEventRateLimiter.Allow(identifier)
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for codes, state parameters, etc.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
