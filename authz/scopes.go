package authz

import "strings"

// WildcardPermission grants an API key access to every tool, including tools
// absent from the scope table.
const WildcardPermission = "*"

// categoryWildcardSuffix marks a pattern that matches every tool in a
// category, e.g. "data/*" matches "data/query_database".
const categoryWildcardSuffix = "/*"

// ScopeAuthorizer maps granted scopes onto the fixed catalogue of callable
// tools. The table is static: each supported scope names the tool patterns
// (exact name or category wildcard) it grants. Any tool with no matching
// pattern is denied, even for authenticated principals.
type ScopeAuthorizer struct {
	table       map[string][]string
	legacyTools map[string]struct{}
}

// NewScopeAuthorizer builds an authorizer from a scope -> tool-pattern table
// and the legacy-allowed tool set for MAC-authenticated devices.
func NewScopeAuthorizer(table map[string][]string, legacyTools []string) *ScopeAuthorizer {
	legacy := make(map[string]struct{}, len(legacyTools))
	for _, t := range legacyTools {
		legacy[t] = struct{}{}
	}
	return &ScopeAuthorizer{table: table, legacyTools: legacy}
}

// DefaultScopeTable returns the standard scope mapping for an MCP tool
// server: read scopes grant query-style tools, write scopes grant mutating
// tools, admin grants the management category.
func DefaultScopeTable() map[string][]string {
	return map[string][]string{
		"mcp:read":  {"data/*", "search_documents", "get_usage_report"},
		"mcp:write": {"mutate/*", "create_document", "delete_document"},
		"mcp:admin": {"admin/*"},
	}
}

// HasPermission reports whether ctx may invoke the named tool. Unknown tools
// and nil contexts are denied (fail closed).
func (a *ScopeAuthorizer) HasPermission(ctx Context, tool string) bool {
	if ctx == nil || tool == "" {
		return false
	}

	switch c := ctx.(type) {
	case OAuthContext:
		return a.scopesGrant(c.Scopes, tool)
	case *OAuthContext:
		return a.scopesGrant(c.Scopes, tool)
	case APIKeyContext:
		return keyGrants(c.Permissions, c.Wildcard, tool)
	case *APIKeyContext:
		return keyGrants(c.Permissions, c.Wildcard, tool)
	case MACContext:
		_, ok := a.legacyTools[tool]
		return ok
	case *MACContext:
		_, ok := a.legacyTools[tool]
		return ok
	default:
		return false
	}
}

// scopesGrant reports whether any granted scope maps to a pattern matching
// the tool. Permissions for OAuth principals are purely this derivation.
func (a *ScopeAuthorizer) scopesGrant(scopes []string, tool string) bool {
	for _, scope := range scopes {
		for _, pattern := range a.table[scope] {
			if matchPattern(pattern, tool) {
				return true
			}
		}
	}
	return false
}

// keyGrants evaluates an API key's explicit permission set. Entries may be
// exact tool names or category wildcards.
func keyGrants(permissions []string, wildcard bool, tool string) bool {
	if wildcard {
		return true
	}
	for _, p := range permissions {
		if p == WildcardPermission || matchPattern(p, tool) {
			return true
		}
	}
	return false
}

// matchPattern matches a tool name against an exact pattern or a category
// wildcard ("category/*").
func matchPattern(pattern, tool string) bool {
	if pattern == tool {
		return true
	}
	if strings.HasSuffix(pattern, categoryWildcardSuffix) {
		category := strings.TrimSuffix(pattern, categoryWildcardSuffix)
		return strings.HasPrefix(tool, category+"/")
	}
	return false
}
