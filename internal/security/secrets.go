package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMalformedSecret is returned when a presented refresh secret does not
// have the expected <ownerID>.<secret> shape.
var ErrMalformedSecret = errors.New("malformed refresh secret")

// refreshSecretBytes is the entropy of the opaque part of a refresh secret.
const refreshSecretBytes = 48

// NewRefreshSecret generates an opaque refresh secret for ownerID and returns
// the plaintext together with the SHA-256 hash to persist. The plaintext has
// the form "<ownerID>.<hex>" so validation can scope the store lookup to one
// owner instead of scanning every active record. The plaintext is returned to
// the caller exactly once; only the hash is ever stored.
func NewRefreshSecret(ownerID string) (plaintext, hash string, err error) {
	if ownerID == "" || strings.Contains(ownerID, ".") {
		return "", "", ErrMalformedSecret
	}
	b := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	plaintext = ownerID + "." + hex.EncodeToString(b)
	return plaintext, HashRefreshSecret(plaintext), nil
}

// RefreshSecretOwner extracts the owner id from a presented refresh secret.
// Fails closed on anything that does not split into two non-empty parts.
func RefreshSecretOwner(presented string) (string, error) {
	owner, rest, ok := strings.Cut(presented, ".")
	if !ok || owner == "" || rest == "" {
		return "", ErrMalformedSecret
	}
	return owner, nil
}

// HashRefreshSecret returns the hex-encoded SHA-256 hash of the full
// plaintext secret. SHA-256 is sufficient here: the input is 48 random bytes,
// not a low-entropy password.
func HashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// RefreshSecretHashEqual compares a presented secret against a stored hash in
// constant time.
func RefreshSecretHashEqual(presented, storedHash string) bool {
	h := HashRefreshSecret(presented)
	return subtle.ConstantTimeCompare([]byte(h), []byte(storedHash)) == 1
}
