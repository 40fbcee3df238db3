package storage

import (
	"context"
	"crypto/subtle"
	"time"

	"golang.org/x/oauth2"
)

// csrfConsumedMarker replaces the session binding once a token is used, so a
// replayed form submission within the TTL window is rejected rather than
// looking like an unknown token.
const csrfConsumedMarker = "\x00consumed"

// ConsentStore issues and consumes the single-use CSRF tokens that protect
// consent form submissions. A token is bound to the authenticated session it
// was issued for and can be consumed exactly once.
type ConsentStore struct {
	kv  KV
	ttl time.Duration
}

// NewConsentStore creates a ConsentStore. ttl is the validity window for
// issued CSRF tokens (a few minutes).
func NewConsentStore(kv KV, ttl time.Duration) *ConsentStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ConsentStore{kv: kv, ttl: ttl}
}

// IssueCSRFToken mints a high-entropy token bound to sessionID.
func (s *ConsentStore) IssueCSRFToken(ctx context.Context, sessionID string) (string, error) {
	token := oauth2.GenerateVerifier()
	created, err := s.kv.SetIfAbsent(ctx, NamespaceCSRF+token, []byte(sessionID), s.ttl)
	if err != nil {
		return "", err
	}
	if !created {
		// 256 bits of entropy colliding means the backend is misbehaving.
		return "", ErrUnavailable
	}
	return token, nil
}

// ConsumeCSRFToken atomically consumes the token. It fails with
// ErrCSRFInvalid if the token is unknown, expired, bound to a different
// session, or was already consumed - the caller treats all of these the same
// way and rejects the submission without touching code storage.
func (s *ConsentStore) ConsumeCSRFToken(ctx context.Context, token, sessionID string) error {
	if token == "" || sessionID == "" {
		return ErrCSRFInvalid
	}

	raw, ok, err := s.kv.Get(ctx, NamespaceCSRF+token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCSRFInvalid
	}
	if subtle.ConstantTimeCompare(raw, []byte(sessionID)) != 1 {
		return ErrCSRFInvalid
	}

	// Single-use: swap the session binding for a tombstone. Only one
	// concurrent submission can win the swap.
	swapped, err := s.kv.CompareAndSwap(ctx, NamespaceCSRF+token, raw, []byte(csrfConsumedMarker), 0)
	if err != nil {
		return err
	}
	if !swapped {
		return ErrCSRFInvalid
	}
	return nil
}
