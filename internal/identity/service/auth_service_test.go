package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	identitydomain "skillforge/platform/internal/identity/domain"
	"skillforge/platform/internal/ratelimit"
	"skillforge/platform/internal/security"
	sessiondomain "skillforge/platform/internal/session/domain"
)

type fakeIdentityRepo struct {
	mu   sync.Mutex
	byID map[string]*identitydomain.Identity
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{byID: make(map[string]*identitydomain.Identity)}
}

func (f *fakeIdentityRepo) GetByID(_ context.Context, id string) (*identitydomain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.byID[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeIdentityRepo) GetByEmail(_ context.Context, email string) (*identitydomain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.byID {
		if i.Email == email {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeIdentityRepo) Create(_ context.Context, i *identitydomain.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == i.Email {
			return errors.New("duplicate email")
		}
	}
	cp := *i
	f.byID[i.ID] = &cp
	return nil
}

func (f *fakeIdentityRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.byID[id]
	if !ok {
		return errors.New("not found")
	}
	i.PasswordHash = passwordHash
	return nil
}

type fakeSessionRepo struct {
	mu   sync.Mutex
	byID map[string]*sessiondomain.RefreshRecord
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byID: make(map[string]*sessiondomain.RefreshRecord)}
}

func (f *fakeSessionRepo) ListActiveByIdentity(_ context.Context, identityID string) ([]*sessiondomain.RefreshRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	var out []*sessiondomain.RefreshRecord
	for _, r := range f.byID {
		if r.IdentityID == identityID && r.Active(now) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) ListRevokedUnexpiredByIdentity(_ context.Context, identityID string) ([]*sessiondomain.RefreshRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	var out []*sessiondomain.RefreshRecord
	for _, r := range f.byID {
		if r.IdentityID == identityID && r.RevokedAt != nil && now.Before(r.ExpiresAt) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) Create(_ context.Context, r *sessiondomain.RefreshRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.byID[r.ID] = &cp
	return nil
}

func (f *fakeSessionRepo) Revoke(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok || r.RevokedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	r.RevokedAt = &now
	return true, nil
}

func (f *fakeSessionRepo) RevokeAllByIdentity(_ context.Context, identityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range f.byID {
		if r.IdentityID == identityID && r.RevokedAt == nil {
			t := now
			r.RevokedAt = &t
		}
	}
	return nil
}

func (f *fakeSessionRepo) activeCount(identityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, r := range f.byID {
		if r.IdentityID == identityID && r.Active(now) {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (*AuthService, *fakeIdentityRepo, *fakeSessionRepo) {
	t.Helper()
	identities := newFakeIdentityRepo()
	sessions := newFakeSessionRepo()
	svc := NewAuthService(
		identities,
		sessions,
		security.NewPasswordHasher(4), // min cost keeps the tests fast
		security.NewTestTokenProvider(15*time.Minute),
		30*24*time.Hour,
		nil,
		nil,
		nil,
		nil,
	)
	return svc, identities, sessions
}

func register(t *testing.T, svc *AuthService) *Credentials {
	t.Helper()
	creds, err := svc.Register(context.Background(), "ada@example.com", "correct horse", "Ada", "LEARNER", "", "go-test", "127.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return creds
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	regCreds := register(t, svc)
	if regCreds.AccessToken == "" || regCreds.RefreshSecret == "" {
		t.Fatal("register returned empty credentials")
	}
	if regCreds.Identity.Role != identitydomain.RoleLearner {
		t.Errorf("role = %q, want LEARNER", regCreds.Identity.Role)
	}

	creds, err := svc.Login(ctx, "Ada@Example.COM", "correct horse", "go-test", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := security.NewTestTokenVerifier().ValidateAccess(creds.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.Subject != creds.Identity.ID {
		t.Errorf("sub = %q, want %q", claims.Subject, creds.Identity.ID)
	}
	if claims.Role != "LEARNER" {
		t.Errorf("role claim = %q, want LEARNER", claims.Role)
	}
	if claims.Email != "ada@example.com" {
		t.Errorf("email claim = %q", claims.Email)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	register(t, svc)
	_, err := svc.Register(context.Background(), "ada@example.com", "another pass", "Ada II", "MENTOR", "", "", "")
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Errorf("err = %v, want ErrEmailAlreadyRegistered", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ada@example.com", "short", "Ada", "LEARNER", "", "", ""); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("short password err = %v, want ErrWeakPassword", err)
	}
	if _, err := svc.Register(ctx, "ada@example.com", "correct horse", "Ada", "SUPERUSER", "", "", ""); err == nil {
		t.Error("unknown role should fail")
	}
	if _, err := svc.Register(ctx, "not-an-email", "correct horse", "Ada", "LEARNER", "", "", ""); err == nil {
		t.Error("invalid email should fail")
	}
}

func TestRegister_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := NewAuthService(
		newFakeIdentityRepo(),
		newFakeSessionRepo(),
		security.NewPasswordHasher(4),
		security.NewTestTokenProvider(15*time.Minute),
		30*24*time.Hour,
		nil,
		ratelimit.New(rdb, "register", 2, time.Hour),
		nil,
		nil,
	)
	ctx := context.Background()

	for i, email := range []string{"one@example.com", "two@example.com"} {
		if _, err := svc.Register(ctx, email, "correct horse", "", "LEARNER", "", "", "203.0.113.9"); err != nil {
			t.Fatalf("registration %d: %v", i+1, err)
		}
	}
	// Third registration from the same address trips the limiter.
	if _, err := svc.Register(ctx, "three@example.com", "correct horse", "", "LEARNER", "", "", "203.0.113.9"); !errors.Is(err, ErrTooManyAttempts) {
		t.Errorf("err = %v, want ErrTooManyAttempts", err)
	}
	// A different address is unaffected.
	if _, err := svc.Register(ctx, "three@example.com", "correct horse", "", "LEARNER", "", "", "203.0.113.10"); err != nil {
		t.Errorf("registration from another address: %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	register(t, svc)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "ada@example.com", "wrong", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "whatever", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestRefresh_RotatesSecret(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()
	creds := register(t, svc)

	rotated, err := svc.Refresh(ctx, creds.RefreshSecret, "go-test", "127.0.0.1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshSecret == creds.RefreshSecret {
		t.Error("rotation returned the same secret")
	}
	if rotated.Identity.ID != creds.Identity.ID {
		t.Error("rotation switched identity")
	}
	if n := sessions.activeCount(creds.Identity.ID); n != 1 {
		t.Errorf("active records = %d, want 1", n)
	}

	// The new secret keeps working.
	if _, err := svc.Refresh(ctx, rotated.RefreshSecret, "go-test", "127.0.0.1"); err != nil {
		t.Fatalf("Refresh with rotated secret: %v", err)
	}
}

func TestRefresh_ReuseRevokesEverything(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()
	creds := register(t, svc)

	// A second live session for the same identity.
	second, err := svc.Login(ctx, "ada@example.com", "correct horse", "", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.Refresh(ctx, creds.RefreshSecret, "", ""); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	// Replaying the consumed secret is reuse: every session dies.
	if _, err := svc.Refresh(ctx, creds.RefreshSecret, "", ""); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("replay err = %v, want ErrRefreshReuse", err)
	}
	if n := sessions.activeCount(creds.Identity.ID); n != 0 {
		t.Errorf("active records after reuse = %d, want 0", n)
	}
	if _, err := svc.Refresh(ctx, second.RefreshSecret, "", ""); err == nil {
		t.Error("unrelated session should be revoked after reuse")
	}
}

func TestRefresh_InvalidSecrets(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creds := register(t, svc)

	for _, presented := range []string{
		"",
		"garbage",
		creds.Identity.ID + ".",
		creds.Identity.ID + ".deadbeef",
		"unknown-owner.deadbeef",
	} {
		if _, err := svc.Refresh(ctx, presented, "", ""); !errors.Is(err, ErrInvalidRefreshSecret) {
			t.Errorf("Refresh(%q) err = %v, want ErrInvalidRefreshSecret", presented, err)
		}
	}
}

func TestRefresh_SingleUseUnderRace(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creds := register(t, svc)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Refresh(ctx, creds.RefreshSecret, "", "")
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInvalidRefreshSecret) && !errors.Is(err, ErrRefreshReuse) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("successful rotations = %d, want exactly 1", succeeded)
	}
}

func TestLogout(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()
	creds := register(t, svc)

	if err := svc.Logout(ctx, creds.RefreshSecret); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if n := sessions.activeCount(creds.Identity.ID); n != 0 {
		t.Errorf("active records = %d, want 0", n)
	}
	// Idempotent: repeated and malformed logouts succeed.
	if err := svc.Logout(ctx, creds.RefreshSecret); err != nil {
		t.Errorf("second Logout: %v", err)
	}
	if err := svc.Logout(ctx, "garbage"); err != nil {
		t.Errorf("malformed Logout: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()
	creds := register(t, svc)
	if _, err := svc.Login(ctx, "ada@example.com", "correct horse", "", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.LogoutAll(ctx, creds.Identity.ID); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n := sessions.activeCount(creds.Identity.ID); n != 0 {
		t.Errorf("active records = %d, want 0", n)
	}
	if _, err := svc.Refresh(ctx, creds.RefreshSecret, "", ""); err == nil {
		t.Error("refresh should fail after logout-all")
	}
}

func TestProfile(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creds := register(t, svc)

	p, err := svc.Profile(ctx, creds.Identity.ID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Email != "ada@example.com" {
		t.Errorf("email = %q", p.Email)
	}
	if _, err := svc.Profile(ctx, "missing"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("missing profile err = %v, want ErrIdentityNotFound", err)
	}
}
