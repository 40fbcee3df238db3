// Package memory provides an in-memory implementation of the storage.KV
// interface. It is suitable for development, testing, and single-instance
// deployments; multi-instance deployments should use storage/valkey.
package memory

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-auth/instrumentation"
	"github.com/giantswarm/mcp-auth/storage"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory KV with TTL expiry. Expired entries behave as absent
// immediately; a background loop reclaims their memory.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	// Atomic counter for metrics (lock-free access during metric collection)
	entriesCountAtomic atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface check
var _ storage.KV = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, the default of 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		entries:         make(map[string]*entry),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation registers the store size gauge with the given
// instrumentation instance.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	if err := inst.RegisterStorageSizeCallback(func() int64 {
		return s.entriesCountAtomic.Load()
	}); err != nil {
		s.logger.Warn("Failed to register storage size callback", "error", err)
	}
}

// Stop terminates the background cleanup loop. The store remains usable.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Get returns the value for key, treating expired entries as absent.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}

	// Copy so callers cannot mutate stored state.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// SetIfAbsent creates the entry only if no live entry exists for key.
func (s *Store) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		return false, nil
	}

	s.put(key, value, ttl, now)
	return true, nil
}

// CompareAndSwap replaces the value iff the current value equals old.
// A ttl <= 0 preserves the entry's remaining expiry.
func (s *Store) CompareAndSwap(_ context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return false, nil
	}
	if !bytes.Equal(e.value, old) {
		return false, nil
	}

	value := make([]byte, len(new))
	copy(value, new)
	e.value = value
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return true, nil
}

// Delete removes the entry for key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.entriesCountAtomic.Add(-1)
	}
	return nil
}

// Len returns the number of entries, including not-yet-reclaimed expired ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// put stores a value. Caller must hold the mutex.
func (s *Store) put(key string, value []byte, ttl time.Duration, now time.Time) {
	v := make([]byte, len(value))
	copy(v, value)

	e := &entry{value: v}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	if _, existed := s.entries[key]; !existed {
		s.entriesCountAtomic.Add(1)
	}
	s.entries[key] = e
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup reclaims expired entries.
func (s *Store) cleanup() {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	remaining := len(s.entries)
	s.entriesCountAtomic.Store(int64(remaining))
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Cleaned up expired entries",
			"removed", removed,
			"remaining", remaining)
	}
}
