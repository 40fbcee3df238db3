package storage

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Client represents a statically registered OAuth client.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash; empty for public clients
	ClientType       string // "public" or "confidential"
	RedirectURIs     []string
	Scopes           []string // empty means all supported scopes
	ClientName       string
	CreatedAt        time.Time
}

// ClientStore resolves registered clients. The authorization server treats
// the registry as read-only; registrations are seeded at construction.
type ClientStore interface {
	// GetClient retrieves a client by ID, or ErrClientNotFound.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a confidential client's secret.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// StaticClientRegistry is a fixed, in-process client registry.
type StaticClientRegistry struct {
	clients map[string]*Client
}

// Compile-time interface check
var _ ClientStore = (*StaticClientRegistry)(nil)

// NewStaticClientRegistry builds a registry from the given clients.
func NewStaticClientRegistry(clients ...*Client) *StaticClientRegistry {
	m := make(map[string]*Client, len(clients))
	for _, c := range clients {
		m[c.ClientID] = c
	}
	return &StaticClientRegistry{clients: m}
}

// GetClient retrieves a client by ID.
func (r *StaticClientRegistry) GetClient(_ context.Context, clientID string) (*Client, error) {
	c, ok := r.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return c, nil
}

// ValidateClientSecret compares the presented secret against the stored
// bcrypt hash. Public clients (no secret hash) always pass.
func (r *StaticClientRegistry) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	c, err := r.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if c.ClientSecretHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.ClientSecretHash), []byte(clientSecret)); err != nil {
		return fmt.Errorf("invalid client credentials")
	}
	return nil
}

// NewConfidentialClient builds a Client with a bcrypt-hashed secret.
func NewConfidentialClient(clientID, clientName, secret string, redirectURIs, scopes []string) (*Client, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}
	return &Client{
		ClientID:         clientID,
		ClientSecretHash: string(hash),
		ClientType:       "confidential",
		RedirectURIs:     redirectURIs,
		Scopes:           scopes,
		ClientName:       clientName,
		CreatedAt:        time.Now(),
	}, nil
}

// NewPublicClient builds a secretless Client (browser or native app).
// Public clients rely on PKCE instead of a client secret.
func NewPublicClient(clientID, clientName string, redirectURIs, scopes []string) *Client {
	return &Client{
		ClientID:     clientID,
		ClientType:   "public",
		RedirectURIs: redirectURIs,
		Scopes:       scopes,
		ClientName:   clientName,
		CreatedAt:    time.Now(),
	}
}
