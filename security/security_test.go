package security

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestAuditorHashesUserID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	auditor := NewAuditor(logger, true)

	auditor.LogTokenIssued("alice@example.com", "client-1", "mcp:read", "authorization_code")

	out := buf.String()
	if strings.Contains(out, "alice@example.com") {
		t.Error("raw user id leaked into audit log")
	}
	if !strings.Contains(out, "token_issued") {
		t.Error("expected token_issued event in log")
	}
	if !strings.Contains(out, "client-1") {
		t.Error("client id should be logged as-is")
	}
}

func TestAuditorDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	auditor := NewAuditor(logger, false)

	auditor.LogTokenReuse("user", "client", "refresh_token")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote output: %s", buf.String())
	}
}

func TestAuditorNilReceiver(t *testing.T) {
	var auditor *Auditor
	// Must not panic.
	auditor.LogAuthFailure("user", "client", "reason")
	auditor.LogTokenRevoked("user", "client", "refresh_token")
}

func TestHashForLoggingStable(t *testing.T) {
	a := hashForLogging("same-input")
	b := hashForLogging("same-input")
	if a != b {
		t.Error("hash must be deterministic")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if hashForLogging("") != "<empty>" {
		t.Error("empty input should map to the <empty> marker")
	}
}

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRateLimiter(1, 3, logger)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("client-1") {
			t.Fatalf("request %d should be within burst", i+1)
		}
	}
	if rl.Allow("client-1") {
		t.Error("request beyond burst should be throttled")
	}

	// A different identifier has its own budget.
	if !rl.Allow("client-2") {
		t.Error("independent identifier should not be throttled")
	}
}

func TestRateLimiterLRUEviction(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRateLimiterWithConfig(1, 1, 2, logger)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("c") // evicts "a"

	// "a" gets a fresh limiter after eviction, so its burst is available again.
	if !rl.Allow("a") {
		t.Error("evicted identifier should start with a fresh budget")
	}
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{"zero time never expires", time.Time{}, 0, false},
		{"future not expired", now.Add(time.Hour), 0, false},
		{"past expired", now.Add(-time.Hour), 0, true},
		{"within grace", now.Add(-2 * time.Second), 5 * time.Second, false},
		{"beyond grace", now.Add(-10 * time.Second), 5 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredWithGracePeriod(tt.expiresAt, tt.grace); got != tt.want {
				t.Errorf("IsExpiredWithGracePeriod = %v, want %v", got, tt.want)
			}
		})
	}
}
