package auth

import (
	"context"
	"strings"
)

// Roles carried in the Firebase "role" custom claim. Florists working the back office are admins.
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// Identity captures the authenticated principal extracted from a Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity may operate the back office.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// Actor renders the identity for audit trails such as order timeline entries.
func (i *Identity) Actor() string {
	if i == nil || i.UID == "" {
		return "anonymous"
	}
	if i.IsAdmin() {
		return "admin:" + i.UID
	}
	return "client:" + i.UID
}

type contextKey string

const identityContextKey contextKey = "github.com/boutique-fleurs/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
