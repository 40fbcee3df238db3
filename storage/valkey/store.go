// Package valkey provides a Valkey-backed implementation of the storage.KV
// interface for multi-instance deployments. SetIfAbsent maps to SET NX and
// CompareAndSwap runs as a Lua script, so both stay atomic across instances.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/mcp-auth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "mcpauth:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxValueSize is the maximum size of a stored value (64KB).
	// Authorization code records and revocation entries are far smaller;
	// anything larger indicates a bug or abuse.
	MaxValueSize = 64 * 1024
)

// luaCompareAndSwap atomically replaces a value iff the current value equals
// ARGV[1]. ARGV[3] is the new TTL in milliseconds; "0" keeps the remaining
// TTL. Returns 1 on swap, 0 otherwise.
const luaCompareAndSwap = `
local cur = redis.call('GET', KEYS[1])
if cur == false or cur ~= ARGV[1] then
  return 0
end
if ARGV[3] == '0' then
  redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
else
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
end
return 1
`

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "mcpauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.KV.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface check
var _ storage.KV = (*Store)(nil)

// New creates a new Valkey-backed store.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to valkey", "address", cfg.Address, "prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close releases the underlying client connection.
func (s *Store) Close() {
	s.client.Close()
}

// Get returns the value for key, or ok=false when absent or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.prefix+key).Build()).AsBytes()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, unavailable("GET", err)
	}
	return data, true, nil
}

// SetIfAbsent creates the entry via SET NX PX. Returns true iff created.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if len(value) > MaxValueSize {
		return false, fmt.Errorf("value exceeds maximum allowed size")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive")
	}

	err := s.client.Do(ctx,
		s.client.B().Set().Key(s.prefix+key).Value(string(value)).Nx().Px(ttl).Build(),
	).Error()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			// NX condition failed: the key already exists.
			return false, nil
		}
		return false, unavailable("SET NX", err)
	}
	return true, nil
}

// CompareAndSwap atomically replaces the value iff it currently equals old.
// Runs as a Lua script so concurrent swaps on the same key have exactly one
// winner. A ttl <= 0 keeps the entry's remaining TTL.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	if len(new) > MaxValueSize {
		return false, fmt.Errorf("value exceeds maximum allowed size")
	}

	ttlMillis := int64(0)
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
	}

	swapped, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaCompareAndSwap).
			Numkeys(1).
			Key(s.prefix+key).
			Arg(string(old), string(new), strconv.FormatInt(ttlMillis, 10)).
			Build(),
	).AsInt64()
	if err != nil {
		return false, unavailable("EVAL CAS", err)
	}
	return swapped == 1, nil
}

// Delete removes the entry for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.prefix+key).Build()).Error(); err != nil {
		return unavailable("DEL", err)
	}
	return nil
}

// unavailable wraps a backend error so callers can fail closed on
// storage.ErrUnavailable regardless of the underlying cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", storage.ErrUnavailable, op, err)
}
