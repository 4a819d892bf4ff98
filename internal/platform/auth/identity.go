package auth

import (
	"context"
	"strings"
)

// RoleAdmin is the role required by the rate and catalog admin routes.
const RoleAdmin = "admin"

// Identity is the verified caller of an admin route.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether role was granted, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func (i *Identity) IsAdmin() bool { return i.HasRole(RoleAdmin) }

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by RequireAdmin.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
