package middleware

import (
	"net/http"
	"strings"

	"skillforge/platform/internal/identity/domain"
	"skillforge/platform/internal/security"
)

// Authenticate validates the Authorization bearer token and stores the
// resulting principal on the request context. Missing or invalid tokens get
// 401 with no further detail.
func Authenticate(verifier *security.TokenProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := verifier.ValidateAccess(token)
			if err != nil {
				unauthorized(w)
				return
			}
			role, err := domain.ParseRole(claims.Role)
			if err != nil {
				unauthorized(w)
				return
			}
			p := &Principal{
				ID:           claims.Subject,
				Email:        claims.Email,
				Role:         role,
				DepartmentID: claims.DepartmentID,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// bearerToken pulls the token out of "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"forbidden"}`))
}
