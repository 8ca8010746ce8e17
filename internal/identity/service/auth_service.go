// Package service implements the authentication flows: registration, login,
// refresh rotation, logout, and password reset.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"skillforge/platform/internal/audit"
	identitydomain "skillforge/platform/internal/identity/domain"
	identityrepo "skillforge/platform/internal/identity/repository"
	"skillforge/platform/internal/passwordreset"
	"skillforge/platform/internal/ratelimit"
	"skillforge/platform/internal/security"
	sessiondomain "skillforge/platform/internal/session/domain"
	sessionrepo "skillforge/platform/internal/session/repository"
)

var (
	// ErrEmailAlreadyRegistered is returned by Register for a taken email.
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	// ErrWeakPassword is returned when a password fails the length floor.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRefreshSecret covers malformed, unknown, expired, and
	// already-rotated refresh secrets. Callers must not distinguish.
	ErrInvalidRefreshSecret = errors.New("invalid refresh secret")
	// ErrRefreshReuse marks presentation of a secret that was already rotated
	// away. Every session of the owner has been revoked by the time the
	// caller sees this.
	ErrRefreshReuse = errors.New("refresh secret reuse detected")
	// ErrTooManyAttempts is returned when the login or registration limiter trips.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrInvalidEmail is returned by Register for emails that cannot be real.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrIdentityNotFound is returned by profile lookups for unknown ids.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrInvalidResetToken is returned for any unusable password-reset token.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
)

const minPasswordLength = 8

// Credentials is one issued access/refresh pair plus the owning profile.
// RefreshSecret is the only time the plaintext secret exists outside the
// client; it is never persisted or logged.
type Credentials struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	RefreshExpiresAt time.Time
	Identity         identitydomain.Profile
}

// AuthService ties identity storage, the refresh store, and the token
// provider into the authentication flows.
type AuthService struct {
	identities      identityrepo.Repository
	sessions        sessionrepo.Repository
	hasher          *security.PasswordHasher
	tokens          *security.TokenProvider
	refreshTTL      time.Duration
	loginLimiter    *ratelimit.Limiter
	registerLimiter *ratelimit.Limiter
	resets          *passwordreset.Store
	auditor         audit.Emitter

	now func() time.Time
}

// NewAuthService wires an AuthService. The limiters, resets, and auditor may
// be nil; the corresponding behavior is then disabled.
func NewAuthService(
	identities identityrepo.Repository,
	sessions sessionrepo.Repository,
	hasher *security.PasswordHasher,
	tokens *security.TokenProvider,
	refreshTTL time.Duration,
	loginLimiter *ratelimit.Limiter,
	registerLimiter *ratelimit.Limiter,
	resets *passwordreset.Store,
	auditor audit.Emitter,
) *AuthService {
	return &AuthService{
		identities:      identities,
		sessions:        sessions,
		hasher:          hasher,
		tokens:          tokens,
		refreshTTL:      refreshTTL,
		loginLimiter:    loginLimiter,
		registerLimiter: registerLimiter,
		resets:          resets,
		auditor:         auditor,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an identity and logs it in, returning a fresh credential
// pair. The role must be one of the platform roles; departmentID is optional.
// Attempts are throttled per client address before any bcrypt or database
// work happens.
func (s *AuthService) Register(ctx context.Context, email, password, name, role, departmentID, userAgent, ip string) (*Credentials, error) {
	if ip != "" {
		if err := s.registerLimiter.Allow(ctx, ip); err != nil {
			if errors.Is(err, ratelimit.ErrLimited) {
				return nil, ErrTooManyAttempts
			}
			return nil, fmt.Errorf("register: rate limiter: %w", err)
		}
	}
	email = identitydomain.NormalizeEmail(email)
	if !identitydomain.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	parsedRole, err := identitydomain.ParseRole(role)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	existing, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("register: lookup email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("register: hash password: %w", err)
	}
	ident := &identitydomain.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         parsedRole,
		DepartmentID: departmentID,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if err := s.identities.Create(ctx, ident); err != nil {
		// The unique index on email closes the check-then-create window.
		return nil, fmt.Errorf("register: create identity: %w", err)
	}
	audit.EmitAsync(s.auditor, &audit.Event{
		Type:       audit.EventRegister,
		IdentityID: ident.ID,
		Email:      ident.Email,
		UserAgent:  userAgent,
		IPAddress:  ip,
		At:         s.now(),
	})
	return s.issueCredentials(ctx, ident, userAgent, ip)
}

// Login verifies the password and issues a fresh credential pair. Failures
// are indistinguishable between unknown email and wrong password.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent, ip string) (*Credentials, error) {
	email = identitydomain.NormalizeEmail(email)
	if err := s.loginLimiter.Allow(ctx, email); err != nil {
		if errors.Is(err, ratelimit.ErrLimited) {
			return nil, ErrTooManyAttempts
		}
		// A configured limiter that cannot count must not wave logins
		// through.
		return nil, fmt.Errorf("login: rate limiter: %w", err)
	}
	ident, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("login: lookup email: %w", err)
	}
	if ident == nil || s.hasher.Compare(ident.PasswordHash, password) != nil {
		ev := &audit.Event{Type: audit.EventLoginFailed, Email: email, UserAgent: userAgent, IPAddress: ip, At: s.now()}
		if ident != nil {
			ev.IdentityID = ident.ID
		}
		audit.EmitAsync(s.auditor, ev)
		return nil, ErrInvalidCredentials
	}
	audit.EmitAsync(s.auditor, &audit.Event{
		Type:       audit.EventLogin,
		IdentityID: ident.ID,
		Email:      ident.Email,
		UserAgent:  userAgent,
		IPAddress:  ip,
		At:         s.now(),
	})
	return s.issueCredentials(ctx, ident, userAgent, ip)
}

// Refresh rotates a presented refresh secret: it revokes the matching record
// and issues a new pair. Under concurrent presentation of one secret exactly
// one call succeeds; the rest get ErrInvalidRefreshSecret.
//
// Presenting a secret that was already rotated away trips reuse detection:
// every session of the owner is revoked and ErrRefreshReuse is returned.
func (s *AuthService) Refresh(ctx context.Context, presented, userAgent, ip string) (*Credentials, error) {
	owner, err := security.RefreshSecretOwner(presented)
	if err != nil {
		return nil, ErrInvalidRefreshSecret
	}
	active, err := s.sessions.ListActiveByIdentity(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("refresh: list active: %w", err)
	}
	match := matchRecord(active, presented, s.now())
	if match == nil {
		return nil, s.detectReuse(ctx, owner, presented, userAgent, ip)
	}
	consumed, err := s.sessions.Revoke(ctx, match.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh: revoke record: %w", err)
	}
	if !consumed {
		// Lost the race: another rotation of this secret already won.
		return nil, ErrInvalidRefreshSecret
	}
	ident, err := s.identities.GetByID(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("refresh: lookup identity: %w", err)
	}
	if ident == nil {
		return nil, ErrInvalidRefreshSecret
	}
	audit.EmitAsync(s.auditor, &audit.Event{
		Type:       audit.EventRefresh,
		IdentityID: ident.ID,
		Email:      ident.Email,
		UserAgent:  userAgent,
		IPAddress:  ip,
		At:         s.now(),
	})
	return s.issueCredentials(ctx, ident, userAgent, ip)
}

// detectReuse decides between a plainly invalid secret and a replay of a
// rotated one. A hit against a revoked-but-unexpired record means the secret
// was valid once, so someone other than its rightful holder may have it; the
// only safe response is to end every session of the owner.
func (s *AuthService) detectReuse(ctx context.Context, owner, presented, userAgent, ip string) error {
	revoked, err := s.sessions.ListRevokedUnexpiredByIdentity(ctx, owner)
	if err != nil {
		return fmt.Errorf("refresh: list revoked: %w", err)
	}
	for _, r := range revoked {
		if security.RefreshSecretHashEqual(presented, r.SecretHash) {
			if err := s.sessions.RevokeAllByIdentity(ctx, owner); err != nil {
				return fmt.Errorf("refresh: revoke all on reuse: %w", err)
			}
			audit.EmitAsync(s.auditor, &audit.Event{
				Type:       audit.EventRefreshReuse,
				IdentityID: owner,
				UserAgent:  userAgent,
				IPAddress:  ip,
				At:         s.now(),
			})
			return ErrRefreshReuse
		}
	}
	return ErrInvalidRefreshSecret
}

// Logout revokes the session behind the presented refresh secret. It is
// idempotent: unknown and already-revoked secrets succeed silently so a
// client can always clear its state.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	owner, err := security.RefreshSecretOwner(presented)
	if err != nil {
		return nil
	}
	active, err := s.sessions.ListActiveByIdentity(ctx, owner)
	if err != nil {
		return fmt.Errorf("logout: list active: %w", err)
	}
	match := matchRecord(active, presented, s.now())
	if match == nil {
		return nil
	}
	if _, err := s.sessions.Revoke(ctx, match.ID); err != nil {
		return fmt.Errorf("logout: revoke record: %w", err)
	}
	audit.EmitAsync(s.auditor, &audit.Event{Type: audit.EventLogout, IdentityID: owner, At: s.now()})
	return nil
}

// LogoutAll revokes every active session of the identity. In-flight access
// tokens stay valid until their expiry; only refresh is cut off.
func (s *AuthService) LogoutAll(ctx context.Context, identityID string) error {
	if err := s.sessions.RevokeAllByIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	audit.EmitAsync(s.auditor, &audit.Event{Type: audit.EventLogoutAll, IdentityID: identityID, At: s.now()})
	return nil
}

// Profile returns the public profile of an identity.
func (s *AuthService) Profile(ctx context.Context, identityID string) (*identitydomain.Profile, error) {
	ident, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("profile: lookup identity: %w", err)
	}
	if ident == nil {
		return nil, ErrIdentityNotFound
	}
	p := ident.Public()
	return &p, nil
}

// ForgotPassword issues a one-shot reset token for the email's identity.
// Unknown emails return an empty token and nil error so the endpoint cannot
// be used to probe which emails exist.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = identitydomain.NormalizeEmail(email)
	ident, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("forgot password: lookup email: %w", err)
	}
	if ident == nil {
		return "", nil
	}
	token, err := s.resets.Issue(ctx, ident.ID)
	if err != nil {
		return "", fmt.Errorf("forgot password: issue token: %w", err)
	}
	return token, nil
}

// ResetPassword consumes a reset token, stores the new password hash, and
// revokes every session of the identity. Stolen refresh secrets die with the
// old password.
func (s *AuthService) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	email = identitydomain.NormalizeEmail(email)
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	ident, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("reset password: lookup email: %w", err)
	}
	if ident == nil {
		return ErrInvalidResetToken
	}
	if err := s.resets.Consume(ctx, ident.ID, token); err != nil {
		if errors.Is(err, passwordreset.ErrInvalidToken) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("reset password: consume token: %w", err)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("reset password: hash password: %w", err)
	}
	if err := s.identities.UpdatePassword(ctx, ident.ID, hash); err != nil {
		return fmt.Errorf("reset password: update password: %w", err)
	}
	if err := s.sessions.RevokeAllByIdentity(ctx, ident.ID); err != nil {
		return fmt.Errorf("reset password: revoke sessions: %w", err)
	}
	audit.EmitAsync(s.auditor, &audit.Event{
		Type:       audit.EventPasswordReset,
		IdentityID: ident.ID,
		Email:      ident.Email,
		At:         s.now(),
	})
	return nil
}

// issueCredentials mints an access token and persists a new refresh record.
func (s *AuthService) issueCredentials(ctx context.Context, ident *identitydomain.Identity, userAgent, ip string) (*Credentials, error) {
	accessToken, accessExpiresAt, err := s.tokens.IssueAccess(ident.ID, ident.Email, string(ident.Role), ident.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	plaintext, hash, err := security.NewRefreshSecret(ident.ID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh secret: %w", err)
	}
	now := s.now()
	record := &sessiondomain.RefreshRecord{
		ID:         uuid.NewString(),
		IdentityID: ident.ID,
		SecretHash: hash,
		ExpiresAt:  now.Add(s.refreshTTL),
		UserAgent:  userAgent,
		IPAddress:  ip,
		CreatedAt:  now,
	}
	if err := s.sessions.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist refresh record: %w", err)
	}
	return &Credentials{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshSecret:    plaintext,
		RefreshExpiresAt: record.ExpiresAt,
		Identity:         ident.Public(),
	}, nil
}

// matchRecord scans candidates for the record whose hash matches the
// presented secret. The compare is constant-time per candidate.
func matchRecord(candidates []*sessiondomain.RefreshRecord, presented string, now time.Time) *sessiondomain.RefreshRecord {
	for _, r := range candidates {
		if r.Active(now) && security.RefreshSecretHashEqual(presented, r.SecretHash) {
			return r
		}
	}
	return nil
}
