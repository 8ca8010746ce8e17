package server

import (
	"encoding/json"
	"net/http"
	"time"

	identitydomain "skillforge/platform/internal/identity/domain"
	"skillforge/platform/internal/identity/service"
	"skillforge/platform/internal/server/middleware"
)

// refreshCookieName is the cookie carrying the opaque refresh secret.
const refreshCookieName = "refresh_token"

// refreshCookiePath scopes the cookie to the auth endpoints so the secret is
// never sent to API routes.
const refreshCookiePath = "/auth"

type registerRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// credentialsResponse is the body of register, login, and refresh responses.
// The refresh secret travels in the cookie and in the body; non-browser
// clients use the body.
type credentialsResponse struct {
	AccessToken      string                 `json:"access_token"`
	AccessExpiresAt  time.Time              `json:"access_expires_at"`
	RefreshToken     string                 `json:"refresh_token"`
	RefreshExpiresAt time.Time              `json:"refresh_expires_at"`
	Identity         identitydomain.Profile `json:"identity"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := identitydomain.ParseRole(req.Role); err != nil {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	creds, err := s.auth.Register(r.Context(), req.Email, req.Password, req.Name, req.Role, req.DepartmentID, r.UserAgent(), clientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.setRefreshCookie(w, creds.RefreshSecret)
	writeJSON(w, http.StatusCreated, credentialsBody(creds))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	creds, err := s.auth.Login(r.Context(), req.Email, req.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.setRefreshCookie(w, creds.RefreshSecret)
	writeJSON(w, http.StatusOK, credentialsBody(creds))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	presented := s.presentedRefreshSecret(r)
	if presented == "" {
		s.clearRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	creds, err := s.auth.Refresh(r.Context(), presented, r.UserAgent(), clientIP(r))
	if err != nil {
		// A failed rotation invalidates whatever the client held.
		s.clearRefreshCookie(w)
		writeServiceError(w, err)
		return
	}
	s.setRefreshCookie(w, creds.RefreshSecret)
	writeJSON(w, http.StatusOK, credentialsBody(creds))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if presented := s.presentedRefreshSecret(r); presented != "" {
		if err := s.auth.Logout(r.Context(), presented); err != nil {
			s.clearRefreshCookie(w)
			writeServiceError(w, err)
			return
		}
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.auth.LogoutAll(r.Context(), p.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	profile, err := s.auth.Profile(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := s.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Same response whether or not the email exists.
	body := map[string]string{"status": "ok"}
	if s.opts.ResetTokenReturnToClient && token != "" {
		body["reset_token"] = token
	}
	writeJSON(w, http.StatusAccepted, body)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.auth.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// presentedRefreshSecret reads the refresh secret from the cookie, falling
// back to the JSON body for non-browser clients.
func (s *Server) presentedRefreshSecret(r *http.Request) string {
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	var req refreshRequest
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    secret,
		Path:     refreshCookiePath,
		Domain:   s.opts.CookieDomain,
		MaxAge:   int(s.opts.RefreshTTL / time.Second),
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Domain:   s.opts.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func credentialsBody(c *service.Credentials) credentialsResponse {
	return credentialsResponse{
		AccessToken:      c.AccessToken,
		AccessExpiresAt:  c.AccessExpiresAt,
		RefreshToken:     c.RefreshSecret,
		RefreshExpiresAt: c.RefreshExpiresAt,
		Identity:         c.Identity,
	}
}
