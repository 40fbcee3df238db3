package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AuthorizationCode is the record stored for an issued authorization code.
// It is created once, consumed exactly once, and never mutated afterward.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Subject             string    `json:"subject"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	Consumed            bool      `json:"consumed"`
}

// CodeStore persists single-use authorization codes on top of a KV backend.
type CodeStore struct {
	kv KV
}

// NewCodeStore creates a CodeStore backed by kv.
func NewCodeStore(kv KV) *CodeStore {
	return &CodeStore{kv: kv}
}

// Save stores a freshly minted code record. The entry expires with the code.
// A key collision means the random code generator produced a duplicate, which
// indicates something is badly wrong; it is reported as an error.
func (s *CodeStore) Save(ctx context.Context, rec *AuthorizationCode) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode authorization code: %w", err)
	}

	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired at save time")
	}

	created, err := s.kv.SetIfAbsent(ctx, NamespaceCode+rec.Code, data, ttl)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("authorization code collision")
	}
	return nil
}

// Get returns the code record, or ErrCodeNotFound if absent or expired.
func (s *CodeStore) Get(ctx context.Context, code string) (*AuthorizationCode, error) {
	rec, _, err := s.get(ctx, code)
	return rec, err
}

// Consume atomically flips the record's consumed flag from false to true and
// returns the record. Exactly one concurrent caller can win; every other
// caller (and any later replay) gets ErrCodeConsumed.
func (s *CodeStore) Consume(ctx context.Context, code string) (*AuthorizationCode, error) {
	rec, raw, err := s.get(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.Consumed {
		return rec, ErrCodeConsumed
	}

	updated := *rec
	updated.Consumed = true
	newData, err := json.Marshal(&updated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode authorization code: %w", err)
	}

	// CAS against the exact bytes we read. A concurrent Consume changed them,
	// so the loser observes swapped=false and fails.
	swapped, err := s.kv.CompareAndSwap(ctx, NamespaceCode+code, raw, newData, 0)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return rec, ErrCodeConsumed
	}
	return &updated, nil
}

// Delete removes a code record. Used after reuse detection; expiry normally
// cleans records up on its own.
func (s *CodeStore) Delete(ctx context.Context, code string) error {
	return s.kv.Delete(ctx, NamespaceCode+code)
}

func (s *CodeStore) get(ctx context.Context, code string) (*AuthorizationCode, []byte, error) {
	raw, ok, err := s.kv.Get(ctx, NamespaceCode+code)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrCodeNotFound
	}

	var rec AuthorizationCode
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil, fmt.Errorf("failed to decode authorization code: %w", err)
	}
	return &rec, raw, nil
}
