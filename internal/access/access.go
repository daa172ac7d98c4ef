// Package access decides who may trigger and inspect upgrades.
package access

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"upgrader/internal/apperrors"
	"upgrader/internal/settings"
)

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// Identity is an authenticated operator.
type Identity struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

// HasRole reports whether the identity holds any of roles (case-insensitive).
func (i *Identity) HasRole(roles ...string) bool {
	if i == nil {
		return false
	}
	for _, have := range i.Roles {
		have = strings.ToLower(strings.TrimSpace(have))
		if slices.Contains(roles, have) {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// Guard gates upgrades. A fresh, not yet installed instance is open so the
// installer can run; once installed only owners and admins pass.
type Guard struct {
	settings settings.Store
}

// NewGuard creates a guard reading installation state from s.
func NewGuard(s settings.Store) *Guard {
	return &Guard{settings: s}
}

// Authorize returns nil when id may run upgrades, otherwise an Unauthorized or
// Forbidden apperrors.Error.
func (g *Guard) Authorize(ctx context.Context, id *Identity) error {
	installed, err := g.settings.IsInstalled(ctx)
	if err != nil {
		return apperrors.Internal("check installation state", err)
	}
	if !installed {
		return nil
	}

	if id == nil {
		return apperrors.Unauthorized("authentication required")
	}
	if !id.HasRole(RoleOwner, RoleAdmin) {
		return apperrors.Forbidden(fmt.Sprintf("%s lacks the owner or admin role", id.Subject))
	}
	return nil
}
