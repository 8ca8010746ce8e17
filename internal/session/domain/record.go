// Package domain holds the refresh-record model: the persisted half of a
// session's long-lived credential.
package domain

import "time"

// RefreshRecord is the persisted state of one outstanding refresh credential.
// SecretHash is the SHA-256 of the plaintext secret; the plaintext itself is
// never stored. A record moves active -> revoked exactly once and never back.
type RefreshRecord struct {
	ID         string
	IdentityID string
	SecretHash string
	ExpiresAt  time.Time
	RevokedAt  *time.Time // nil while active
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
}

// Active reports whether the record can still be consumed by a rotation at
// the given instant.
func (r *RefreshRecord) Active(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}
