// Package passwordreset issues and consumes one-shot password-reset tokens.
// Tokens live in redis under a TTL; only their SHA-256 hash is stored, and a
// token can be consumed exactly once. Delivery of the token to the user
// (email or otherwise) is outside this package.
package passwordreset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidToken covers missing, expired, already-consumed, and
	// non-matching tokens alike; callers must not distinguish.
	ErrInvalidToken = errors.New("invalid or expired reset token")
	// ErrUnavailable is returned when redis cannot be reached.
	ErrUnavailable = errors.New("reset store unavailable")
)

const tokenBytes = 32

// Store keeps reset-token hashes in redis. A nil *Store refuses every
// operation, so password reset is simply off when redis is not configured.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a Store with the given token lifetime.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Issue generates a reset token for the identity and stores its hash under
// the configured TTL. Issuing again overwrites the previous token, so at most
// one is outstanding per identity.
func (s *Store) Issue(ctx context.Context, identityID string) (string, error) {
	if s == nil || s.rdb == nil {
		return "", ErrUnavailable
	}
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	sum := sha256.Sum256([]byte(token))
	if err := s.rdb.Set(ctx, key(identityID), hex.EncodeToString(sum[:]), s.ttl).Err(); err != nil {
		return "", errors.Join(ErrUnavailable, err)
	}
	return token, nil
}

// Consume validates token for the identity and deletes it in the same step
// (GETDEL), so a second presentation always fails.
func (s *Store) Consume(ctx context.Context, identityID, token string) error {
	if s == nil || s.rdb == nil {
		return ErrUnavailable
	}
	stored, err := s.rdb.GetDel(ctx, key(identityID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidToken
		}
		return errors.Join(ErrUnavailable, err)
	}
	sum := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(stored)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

func key(identityID string) string {
	return "pwreset:" + identityID
}
