// Package middleware holds the HTTP middleware chain: request logging,
// authentication, and role enforcement.
package middleware

import (
	"context"

	"skillforge/platform/internal/identity/domain"
)

// Principal is the authenticated caller as established by the auth
// middleware. Handlers downstream read it from the request context.
type Principal struct {
	ID           string
	Email        string
	Role         domain.Role
	DepartmentID string
}

type contextKey struct{}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom extracts the principal set by the auth middleware. The
// boolean is false on unauthenticated requests.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}
