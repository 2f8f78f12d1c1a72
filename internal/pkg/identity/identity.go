// Package identity carries the caller identity supplied by the external
// identity provider through request contexts and service calls.
package identity

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSudo     Role = "sudo"
	RoleAdmin    Role = "admin"
	RoleAgent    Role = "agent"
	RoleCustomer Role = "customer"
	RoleSystem   Role = "system"
)

// SystemActor is recorded as the author of derived transitions such as the overdue sweep.
var SystemActor = Actor{UserID: "system", Role: RoleSystem}

type Actor struct {
	UserID string
	Role   Role
}

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSudo, RoleAdmin, RoleAgent, RoleCustomer:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsStaff reports whether the role may act on loans it does not own.
func (r Role) IsStaff() bool {
	switch r {
	case RoleSudo, RoleAdmin, RoleAgent, RoleSystem:
		return true
	}
	return false
}

func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
