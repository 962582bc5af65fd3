package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the bearer token claims accepted on client-facing endpoints.
// OrgID scopes audit records; Role is checked by internal/rbac.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Role   string `json:"role"`
	// Scope is empty for access tokens; ScopeMedia tokens only open media URLs.
	Scope string `json:"scope,omitempty"`
}

// ScopeMedia marks a short-lived token meant for a query string (e.g. <audio src>).
const ScopeMedia = "media"
