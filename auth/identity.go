package auth

import (
	"context"
	"slices"

	"storefront/globals"
)

// Identity is the already-verified caller passed explicitly into every core
// operation.
type Identity struct {
	UserID string
	Roles  []string
}

// Authenticated reports whether the identity carries a user id.
func (id Identity) Authenticated() bool {
	return id.UserID != ""
}

// HasRole reports whether the identity holds role.
func (id Identity) HasRole(role string) bool {
	return slices.Contains(id.Roles, role)
}

func (id Identity) IsAdmin() bool {
	return id.HasRole(globals.RoleAdmin)
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, globals.IdentityKey, id)
}

// FromContext returns the identity stored by WithIdentity, or the zero value.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(globals.IdentityKey).(Identity)
	return id
}
