// Package audit records authentication lifecycle events. Events are emitted
// best-effort: a down broker must never fail a login.
package audit

import "time"

// Event types emitted by the auth service.
const (
	EventRegister      = "register"
	EventLogin         = "login"
	EventLoginFailed   = "login_failed"
	EventRefresh       = "refresh"
	EventRefreshReuse  = "refresh_reuse_detected"
	EventLogout        = "logout"
	EventLogoutAll     = "logout_all"
	EventPasswordReset = "password_reset"
)

// Event is one auth audit record. IdentityID may be empty for failed logins
// against unknown emails.
type Event struct {
	Type       string    `json:"type"`
	IdentityID string    `json:"identity_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	At         time.Time `json:"at"`
}
