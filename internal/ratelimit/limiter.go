// Package ratelimit throttles repeated authentication attempts per
// identifier using a redis fixed window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLimited is returned when the identifier exhausted its attempts for
	// the current window.
	ErrLimited = errors.New("too many attempts")
	// ErrUnavailable is returned when redis cannot be reached; callers decide
	// whether to fail the request or continue.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Limiter counts attempts per key inside a fixed window. A nil *Limiter is a
// no-op, so callers can run without redis configured.
type Limiter struct {
	rdb         *redis.Client
	prefix      string
	maxAttempts int
	window      time.Duration
}

// New returns a Limiter over the given redis client. prefix namespaces the
// keys (e.g. "login").
func New(rdb *redis.Client, prefix string, maxAttempts int, window time.Duration) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{rdb: rdb, prefix: prefix, maxAttempts: maxAttempts, window: window}
}

// Allow records one attempt for identifier and returns ErrLimited once the
// window budget is spent. The first attempt in a window sets the expiry.
func (l *Limiter) Allow(ctx context.Context, identifier string) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	key := l.prefix + ":" + identifier
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count > int64(l.maxAttempts) {
		return ErrLimited
	}
	return nil
}
