// Package security provides the ambient security features of the
// authorization server: audit logging with PII protection and rate limiting
// for security event floods.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs a successful token issuance.
func (a *Auditor) LogTokenIssued(userID, clientID, scope, grantType string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope":      scope,
			"grant_type": grantType,
		},
	})
}

// LogTokenRefreshed logs a refresh grant with rotation.
func (a *Auditor) LogTokenRefreshed(userID, clientID string, generation int) {
	a.LogEvent(Event{
		Type:     "token_refreshed",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"rotated":    true,
			"generation": generation,
		},
	})
}

// LogTokenRevoked logs an explicit token revocation.
func (a *Auditor) LogTokenRevoked(userID, clientID, tokenType string) {
	a.LogEvent(Event{
		Type:     "token_revoked",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogTokenReuse logs detected replay of a rotated refresh token or consumed
// authorization code. This is the theft indicator that triggers family
// revocation.
func (a *Auditor) LogTokenReuse(userID, clientID, kind string) {
	a.LogEvent(Event{
		Type:     "token_reuse_detected",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"severity": "critical",
			"kind":     kind,
		},
	})
}

// LogAuthFailure logs an authentication failure.
func (a *Auditor) LogAuthFailure(userID, clientID, reason string) {
	a.LogEvent(Event{
		Type:     "auth_failure",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogConsentDecision logs a user's consent decision.
func (a *Auditor) LogConsentDecision(userID, clientID, scope string, approved bool) {
	a.LogEvent(Event{
		Type:     "consent_decision",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope":    scope,
			"approved": approved,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
