// Package server wires the auth service's HTTP surface: registration, login,
// refresh rotation, logout, and password reset, plus the profile endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"skillforge/platform/internal/identity/domain"
	"skillforge/platform/internal/identity/service"
	"skillforge/platform/internal/ratelimit"
	"skillforge/platform/internal/security"
	"skillforge/platform/internal/server/middleware"
)

// AuthFlows is the slice of the auth service the HTTP layer needs.
type AuthFlows interface {
	Register(ctx context.Context, email, password, name, role, departmentID, userAgent, ip string) (*service.Credentials, error)
	Login(ctx context.Context, email, password, userAgent, ip string) (*service.Credentials, error)
	Refresh(ctx context.Context, presented, userAgent, ip string) (*service.Credentials, error)
	Logout(ctx context.Context, presented string) error
	LogoutAll(ctx context.Context, identityID string) error
	Profile(ctx context.Context, identityID string) (*domain.Profile, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, email, token, newPassword string) error
}

// Options carries the handler-level knobs that come from config.
type Options struct {
	CookieDomain string
	CookieSecure bool
	RefreshTTL   time.Duration
	// ResetTokenReturnToClient echoes password-reset tokens in the forgot
	// response. Development only; construction must refuse it in production.
	ResetTokenReturnToClient bool
}

// Server is the auth service HTTP layer.
type Server struct {
	auth     AuthFlows
	verifier *security.TokenProvider
	opts     Options
	router   *mux.Router
}

// New builds the router. verifier is used for the endpoints that need an
// authenticated caller (me, logout-all).
func New(auth AuthFlows, verifier *security.TokenProvider, opts Options) *Server {
	s := &Server{auth: auth, verifier: verifier, opts: opts}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(middleware.Logging, middleware.Tracing("auth-server"))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	auth.HandleFunc("/password/forgot", s.handleForgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/password/reset", s.handleResetPassword).Methods(http.MethodPost)

	authed := auth.NewRoute().Subrouter()
	authed.Use(middleware.Authenticate(s.verifier))
	authed.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/logout-all", s.handleLogoutAll).Methods(http.MethodPost)

	s.router = r
}

// ServeHTTP makes Server a http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP prefers X-Forwarded-For set by the gateway, falling back to the
// socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service sentinel errors onto the HTTP taxonomy.
// Anything unrecognized is a 500 with no detail leaked.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidRefreshSecret),
		errors.Is(err, service.ErrRefreshReuse):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrTooManyAttempts),
		errors.Is(err, ratelimit.ErrLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts")
	case errors.Is(err, service.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInvalidResetToken):
		writeError(w, http.StatusUnauthorized, "invalid or expired reset token")
	case errors.Is(err, context.Canceled):
		// Client went away; the status is never seen.
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		log.Printf("server: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
