// Package storage defines the key/value primitives that back the durable
// state of the authorization server: single-use authorization codes, refresh
// token revocation entries, and consent CSRF tokens.
//
// All mutations go through atomic primitives (SetIfAbsent, CompareAndSwap) so
// that two concurrent requests racing on the same authorization code or the
// same refresh token jti produce exactly one winner. Backends include
// in-memory (storage/memory) and Valkey (storage/valkey).
package storage

import (
	"context"
	"errors"
	"time"
)

// Key namespaces. Every durable entry lives under exactly one of these
// prefixes so backends can apply per-namespace retention and inspection.
const (
	NamespaceCode    = "code:"
	NamespaceRevoked = "revoked:"
	NamespaceFamily  = "family:"
	NamespaceCSRF    = "csrf:"
)

// Sentinel errors returned by typed stores.
//
// ErrUnavailable is special: it means the backend could not be consulted at
// all (timeout, connection failure). Callers MUST fail closed on it - an
// unavailable store is never treated as "not revoked" or "not consumed".
var (
	ErrUnavailable    = errors.New("storage unavailable")
	ErrCodeNotFound   = errors.New("authorization code not found")
	ErrCodeConsumed   = errors.New("authorization code already consumed")
	ErrCSRFInvalid    = errors.New("csrf token invalid or already consumed")
	ErrClientNotFound = errors.New("client not found")
)

// KV is the minimal key/value contract all backends implement. Values are
// opaque byte slices; expiry is handled by the backend (entries past their
// TTL behave as absent).
//
// All methods accept a context carrying the caller's timeout. A backend
// failure surfaces as an error wrapping ErrUnavailable, never as a silent
// "absent" result.
type KV interface {
	// Get returns the value for key, or ok=false if the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// SetIfAbsent creates the entry only if the key does not exist.
	// Returns true iff this call created the entry.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (created bool, err error)

	// CompareAndSwap replaces the value only if the current value equals old.
	// A ttl <= 0 preserves the entry's remaining TTL.
	// Returns true iff the swap happened.
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (swapped bool, err error)

	// Delete removes the entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
