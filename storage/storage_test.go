package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/mcp-auth/storage"
	"github.com/giantswarm/mcp-auth/storage/memory"
)

func newKV(t *testing.T) *memory.Store {
	t.Helper()
	kv := memory.New()
	t.Cleanup(kv.Stop)
	return kv
}

func testCode(code string) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:                code,
		ClientID:            "client-1",
		RedirectURI:         "https://example.com/callback",
		Scope:               "mcp:read",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		Subject:             "user-1",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}

func TestCodeStoreSaveAndGet(t *testing.T) {
	codes := storage.NewCodeStore(newKV(t))
	ctx := context.Background()

	rec := testCode("code-1")
	if err := codes.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := codes.Get(ctx, "code-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ClientID != "client-1" || got.Subject != "user-1" || got.Consumed {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestCodeStoreGetUnknown(t *testing.T) {
	codes := storage.NewCodeStore(newKV(t))

	_, err := codes.Get(context.Background(), "nope")
	if !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("err = %v, want ErrCodeNotFound", err)
	}
}

func TestCodeStoreRejectsDuplicateCode(t *testing.T) {
	codes := storage.NewCodeStore(newKV(t))
	ctx := context.Background()

	if err := codes.Save(ctx, testCode("dup")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := codes.Save(ctx, testCode("dup")); err == nil {
		t.Fatal("expected saving a duplicate code to fail")
	}
}

func TestCodeStoreConsumeExactlyOnce(t *testing.T) {
	codes := storage.NewCodeStore(newKV(t))
	ctx := context.Background()

	if err := codes.Save(ctx, testCode("once")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec, err := codes.Consume(ctx, "once")
	if err != nil {
		t.Fatalf("first Consume failed: %v", err)
	}
	if !rec.Consumed {
		t.Error("returned record should be marked consumed")
	}

	if _, err := codes.Consume(ctx, "once"); !errors.Is(err, storage.ErrCodeConsumed) {
		t.Errorf("second Consume err = %v, want ErrCodeConsumed", err)
	}
}

func TestCodeStoreConcurrentConsumeSingleWinner(t *testing.T) {
	codes := storage.NewCodeStore(newKV(t))
	ctx := context.Background()

	if err := codes.Save(ctx, testCode("contested")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := codes.Consume(ctx, "contested"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if !errors.Is(err, storage.ErrCodeConsumed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestRevocationStoreSingleWinner(t *testing.T) {
	revs := storage.NewRevocationStore(newKV(t))
	ctx := context.Background()

	won, err := revs.Revoke(ctx, "jti-1", time.Hour)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !won {
		t.Fatal("first Revoke should win")
	}

	won, err = revs.Revoke(ctx, "jti-1", time.Hour)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if won {
		t.Fatal("second Revoke must observe the existing entry")
	}

	revoked, err := revs.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected jti-1 to be revoked")
	}
}

func TestRevocationStoreRecordsNominallyExpiredToken(t *testing.T) {
	revs := storage.NewRevocationStore(newKV(t))
	ctx := context.Background()

	// A token past its exp can still pass validation inside the clock-skew
	// leeway, so its revocation must be recorded like any other.
	won, err := revs.Revoke(ctx, "jti-expired", 0)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !won {
		t.Fatal("first Revoke should win")
	}

	won, err = revs.Revoke(ctx, "jti-expired", -time.Second)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if won {
		t.Fatal("second Revoke must observe the existing entry")
	}

	revoked, err := revs.IsRevoked(ctx, "jti-expired")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected a live tombstone for the expired jti")
	}

	if err := revs.RevokeFamily(ctx, "fam-expired", 0); err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}
	famRevoked, err := revs.IsFamilyRevoked(ctx, "fam-expired")
	if err != nil {
		t.Fatalf("IsFamilyRevoked failed: %v", err)
	}
	if !famRevoked {
		t.Error("expected a live tombstone for the expired family")
	}
}

func TestRevocationStoreUnknownJTI(t *testing.T) {
	revs := storage.NewRevocationStore(newKV(t))

	revoked, err := revs.IsRevoked(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Error("unknown jti must not be revoked")
	}
}

func TestRevocationStoreFamily(t *testing.T) {
	revs := storage.NewRevocationStore(newKV(t))
	ctx := context.Background()

	revoked, err := revs.IsFamilyRevoked(ctx, "fam-1")
	if err != nil {
		t.Fatalf("IsFamilyRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("fresh family must not be revoked")
	}

	if err := revs.RevokeFamily(ctx, "fam-1", time.Hour); err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}
	// Revoking an already revoked family is idempotent.
	if err := revs.RevokeFamily(ctx, "fam-1", time.Hour); err != nil {
		t.Fatalf("repeat RevokeFamily failed: %v", err)
	}

	revoked, err = revs.IsFamilyRevoked(ctx, "fam-1")
	if err != nil {
		t.Fatalf("IsFamilyRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected fam-1 to be revoked")
	}
}

func TestConsentCSRFTokenSingleUse(t *testing.T) {
	consents := storage.NewConsentStore(newKV(t), time.Minute)
	ctx := context.Background()

	tok, err := consents.IssueCSRFToken(ctx, "session-1")
	if err != nil {
		t.Fatalf("IssueCSRFToken failed: %v", err)
	}

	if err := consents.ConsumeCSRFToken(ctx, tok, "session-1"); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}

	if err := consents.ConsumeCSRFToken(ctx, tok, "session-1"); !errors.Is(err, storage.ErrCSRFInvalid) {
		t.Errorf("replayed consume err = %v, want ErrCSRFInvalid", err)
	}
}

func TestConsentCSRFTokenSessionBinding(t *testing.T) {
	consents := storage.NewConsentStore(newKV(t), time.Minute)
	ctx := context.Background()

	tok, err := consents.IssueCSRFToken(ctx, "session-1")
	if err != nil {
		t.Fatalf("IssueCSRFToken failed: %v", err)
	}

	if err := consents.ConsumeCSRFToken(ctx, tok, "other-session"); !errors.Is(err, storage.ErrCSRFInvalid) {
		t.Errorf("cross-session consume err = %v, want ErrCSRFInvalid", err)
	}

	// The failed attempt must not have consumed the token.
	if err := consents.ConsumeCSRFToken(ctx, tok, "session-1"); err != nil {
		t.Errorf("legitimate consume after failed attempt: %v", err)
	}
}

func TestConsentCSRFTokenUnknown(t *testing.T) {
	consents := storage.NewConsentStore(newKV(t), time.Minute)

	err := consents.ConsumeCSRFToken(context.Background(), "never-issued", "session-1")
	if !errors.Is(err, storage.ErrCSRFInvalid) {
		t.Errorf("err = %v, want ErrCSRFInvalid", err)
	}
}

type recordedOp struct {
	op  string
	err error
}

type stubRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *stubRecorder) RecordStoreOperation(_ context.Context, op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{op: op, err: err})
}

func TestInstrumentKVReportsOperations(t *testing.T) {
	rec := &stubRecorder{}
	kv := storage.InstrumentKV(newKV(t), rec)
	ctx := context.Background()

	if _, err := kv.SetIfAbsent(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("SetIfAbsent failed: %v", err)
	}
	if _, _, err := kv.Get(ctx, "k"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := kv.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"), 0); err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	want := []string{"set_if_absent", "get", "compare_and_swap", "delete"}
	if len(rec.ops) != len(want) {
		t.Fatalf("recorded %d operations, want %d", len(rec.ops), len(want))
	}
	for i, op := range want {
		if rec.ops[i].op != op {
			t.Errorf("operation %d = %q, want %q", i, rec.ops[i].op, op)
		}
		if rec.ops[i].err != nil {
			t.Errorf("operation %q recorded error: %v", op, rec.ops[i].err)
		}
	}
}

func TestStaticClientRegistry(t *testing.T) {
	confidential, err := storage.NewConfidentialClient(
		"conf-1", "Confidential", "s3cret",
		[]string{"https://example.com/cb"}, nil)
	if err != nil {
		t.Fatalf("NewConfidentialClient failed: %v", err)
	}
	public := storage.NewPublicClient("pub-1", "Public", []string{"https://example.com/cb"}, nil)
	reg := storage.NewStaticClientRegistry(confidential, public)
	ctx := context.Background()

	if _, err := reg.GetClient(ctx, "conf-1"); err != nil {
		t.Errorf("GetClient(conf-1) failed: %v", err)
	}
	if _, err := reg.GetClient(ctx, "ghost"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient(ghost) err = %v, want ErrClientNotFound", err)
	}

	if err := reg.ValidateClientSecret(ctx, "conf-1", "s3cret"); err != nil {
		t.Errorf("valid secret rejected: %v", err)
	}
	if err := reg.ValidateClientSecret(ctx, "conf-1", "wrong"); err == nil {
		t.Error("wrong secret accepted")
	}
	// Public clients have no secret to check.
	if err := reg.ValidateClientSecret(ctx, "pub-1", ""); err != nil {
		t.Errorf("public client secret check failed: %v", err)
	}
}
