package middleware

import (
	"net/http"

	"skillforge/platform/internal/identity/domain"
)

// RoleAllowed reports whether have is one of the allowed roles. An empty
// allowed set admits any role. This is the single role check for the platform;
// the edge gateway and RequireRoles both go through it.
func RoleAllowed(allowed []domain.Role, have domain.Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == have {
			return true
		}
	}
	return false
}

// RequireRoles rejects authenticated requests whose principal carries none of
// the allowed roles. 403, not 401: the caller is known, just not permitted,
// and clients must not react by refreshing.
//
// Must run after Authenticate; an absent principal is treated as 401.
func RequireRoles(allowed ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			if !RoleAllowed(allowed, p.Role) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
