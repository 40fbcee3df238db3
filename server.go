// Package auth implements an OAuth 2.1 authorization server for MCP
// deployments: PKCE-enforced authorization code flow, Ed25519-signed access
// and refresh tokens with rotation and replay detection, scope-based tool
// authorization, and multi-method request authentication.
package auth

import (
	"crypto/ed25519"
	"log/slog"

	"github.com/giantswarm/mcp-auth/authz"
	"github.com/giantswarm/mcp-auth/server"
	"github.com/giantswarm/mcp-auth/storage"
)

// Server is the authorization server core.
type Server = server.Server

// ServerConfig holds authorization server configuration.
type ServerConfig = server.Config

// Grant types accepted by the token endpoint.
const (
	GrantTypeAuthorizationCode = server.GrantTypeAuthorizationCode
	GrantTypeRefreshToken      = server.GrantTypeRefreshToken
)

// NewServer creates an authorization server backed by kv.
func NewServer(
	clients storage.ClientStore,
	kv storage.KV,
	signingKey ed25519.PrivateKey,
	config *ServerConfig,
	logger *slog.Logger,
) (*Server, error) {
	return server.New(clients, kv, signingKey, config, logger)
}

// NewDispatcher builds a request authenticator bound to srv's token
// validator. keys and devices are optional collaborators; nil disables that
// authentication method.
func NewDispatcher(srv *Server, keys authz.KeyStore, devices authz.DeviceVerifier, logger *slog.Logger) *authz.Dispatcher {
	return authz.NewDispatcher(srv.Validator(), keys, devices, logger)
}
