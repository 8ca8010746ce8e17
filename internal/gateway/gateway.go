// Package gateway is the edge in front of the platform services. It decides
// per route whether a request may pass, and with which identity headers.
//
// The gate is stateless: it verifies access tokens with the public key only
// and never consults the session store. Revocation takes effect at the next
// refresh, bounded by the access-token TTL.
package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"skillforge/platform/internal/identity/domain"
	"skillforge/platform/internal/security"
	"skillforge/platform/internal/server/middleware"
)

// Identity headers forwarded to collaborators. Anything the client sends
// under this prefix is dropped before routing.
const (
	HeaderUserID       = "X-Auth-User-Id"
	HeaderEmail        = "X-Auth-Email"
	HeaderRole         = "X-Auth-Role"
	HeaderDepartmentID = "X-Auth-Department-Id"

	authHeaderPrefix = "X-Auth-"
)

// Rule maps a path prefix to a backend. Public rules skip credential
// extraction entirely; Roles narrows authenticated rules to specific roles,
// with an empty slice meaning any authenticated identity.
type Rule struct {
	Prefix string
	Target *url.URL
	Public bool
	Roles  []domain.Role
}

type route struct {
	Rule
	proxy *httputil.ReverseProxy
}

// Gateway routes requests by longest matching prefix.
type Gateway struct {
	verifier *security.TokenProvider
	routes   []route
}

// New builds a Gateway from the rule set. Rules are resolved at startup;
// a request either matches a rule or gets 404.
func New(verifier *security.TokenProvider, rules []Rule) *Gateway {
	routes := make([]route, 0, len(rules))
	for _, r := range rules {
		routes = append(routes, route{Rule: r, proxy: httputil.NewSingleHostReverseProxy(r.Target)})
	}
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})
	return &Gateway{verifier: verifier, routes: routes}
}

// DefaultRules is the platform route table: auth endpoints on the auth
// service, admin endpoints behind ADMIN, mentor and company API segments
// behind their roles, and the rest of /api open to any authenticated
// identity.
func DefaultRules(authURL, adminURL, apiURL *url.URL) []Rule {
	return []Rule{
		{Prefix: "/auth/register", Target: authURL, Public: true},
		{Prefix: "/auth/login", Target: authURL, Public: true},
		{Prefix: "/auth/refresh", Target: authURL, Public: true},
		{Prefix: "/auth/password/", Target: authURL, Public: true},
		{Prefix: "/healthz", Target: authURL, Public: true},
		{Prefix: "/auth/", Target: authURL},
		{Prefix: "/admin/", Target: adminURL, Roles: []domain.Role{domain.RoleAdmin}},
		{Prefix: "/api/mentor/", Target: apiURL, Roles: []domain.Role{domain.RoleMentor, domain.RoleAdmin}},
		{Prefix: "/api/company/", Target: apiURL, Roles: []domain.Role{domain.RoleCompany, domain.RoleAdmin}},
		{Prefix: "/api/", Target: apiURL},
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stripAuthHeaders(r.Header)

	rt := g.match(r.URL.Path)
	if rt == nil {
		http.NotFound(w, r)
		return
	}
	// Public routes bypass the gate before any credential is even read.
	if rt.Public {
		rt.proxy.ServeHTTP(w, r)
		return
	}
	claims, err := g.extract(r)
	if err != nil {
		writeStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		writeStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !middleware.RoleAllowed(rt.Roles, role) {
		writeStatus(w, http.StatusForbidden, "forbidden")
		return
	}
	r.Header.Set(HeaderUserID, claims.Subject)
	r.Header.Set(HeaderEmail, claims.Email)
	r.Header.Set(HeaderRole, string(role))
	if claims.DepartmentID != "" {
		r.Header.Set(HeaderDepartmentID, claims.DepartmentID)
	}
	p := &middleware.Principal{ID: claims.Subject, Email: claims.Email, Role: role, DepartmentID: claims.DepartmentID}
	rt.proxy.ServeHTTP(w, r.WithContext(middleware.WithPrincipal(r.Context(), p)))
}

func (g *Gateway) match(path string) *route {
	for i := range g.routes {
		if strings.HasPrefix(path, g.routes[i].Prefix) {
			return &g.routes[i]
		}
	}
	return nil
}

func (g *Gateway) extract(r *http.Request) (*security.AccessClaims, error) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, security.ErrInvalidToken
	}
	return g.verifier.ValidateAccess(token)
}

// stripAuthHeaders removes client-supplied identity headers. Only the gate
// may assert identity to collaborators.
func stripAuthHeaders(h http.Header) {
	for name := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), authHeaderPrefix) {
			h.Del(name)
		}
	}
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
