package storage

import (
	"context"
	"time"
)

// RevocationStore tracks revoked refresh token identifiers (jti) and revoked
// token families. Entries carry a TTL equal to the remaining lifetime of the
// token they revoke, so the store bounds its own growth without a sweep.
type RevocationStore struct {
	kv KV
}

// NewRevocationStore creates a RevocationStore backed by kv.
func NewRevocationStore(kv KV) *RevocationStore {
	return &RevocationStore{kv: kv}
}

// minRevocationTTL floors the lifetime of revocation entries. Validators
// accept tokens up to their clock-skew leeway past exp, so a nominally
// expired token can still be presented; its tombstone must outlive that
// window or the single-use guarantee breaks.
const minRevocationTTL = time.Minute

// Revoke marks a jti as revoked. Returns true iff this call created the
// entry - the rotation winner. A false return means the jti was already
// revoked: the caller lost the race (or is replaying a rotated token) and
// must fail the grant. The entry is always written, even when the token
// looks expired to the caller.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl < minRevocationTTL {
		ttl = minRevocationTTL
	}
	return s.kv.SetIfAbsent(ctx, NamespaceRevoked+jti, revokedValue(), ttl)
}

// IsRevoked reports whether a jti has a live revocation entry.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, NamespaceRevoked+jti)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// RevokeFamily marks an entire refresh token family as revoked. Used when
// replay of a rotated token is detected: every descendant of the stolen
// chain becomes unusable at once.
func (s *RevocationStore) RevokeFamily(ctx context.Context, familyID string, ttl time.Duration) error {
	if ttl < minRevocationTTL {
		ttl = minRevocationTTL
	}
	_, err := s.kv.SetIfAbsent(ctx, NamespaceFamily+familyID, revokedValue(), ttl)
	return err
}

// IsFamilyRevoked reports whether a token family has been revoked.
func (s *RevocationStore) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, NamespaceFamily+familyID)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// revokedValue is the stored payload for revocation entries: the revocation
// time, useful for forensics. Consumers only test for presence.
func revokedValue() []byte {
	return []byte(time.Now().UTC().Format(time.RFC3339Nano))
}
