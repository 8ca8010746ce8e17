package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testPlatform fakes the gateway plus auth service: /api/data wants the
// current access token, /auth/refresh rotates it.
type testPlatform struct {
	mu            sync.Mutex
	validAccess   string
	validRefresh  string
	refreshCalls  atomic.Int64
	failRefresh   bool
	blockRefresh  chan struct{}
	apiCalls      atomic.Int64
	rotationCount int
}

func (p *testPlatform) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		p.apiCalls.Add(1)
		p.mu.Lock()
		valid := "Bearer " + p.validAccess
		p.mu.Unlock()
		if r.Header.Get("Authorization") != valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"data":"ok"}`)
	})
	mux.HandleFunc("/api/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  p.validAccess,
			"refresh_token": p.validRefresh,
		})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		p.refreshCalls.Add(1)
		if p.blockRefresh != nil {
			<-p.blockRefresh
		}
		if p.failRefresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		p.mu.Lock()
		defer p.mu.Unlock()
		if req.RefreshToken != p.validRefresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.rotationCount++
		p.validAccess = p.validAccess + "+"
		p.validRefresh = p.validRefresh + "+"
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  p.validAccess,
			"refresh_token": p.validRefresh,
		})
	})
	return mux
}

func newTestClient(t *testing.T, p *testPlatform) *Client {
	t.Helper()
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDo_RefreshesOnceAndReplays(t *testing.T) {
	p := &testPlatform{validAccess: "fresh", validRefresh: "r1"}
	c := newTestClient(t, p)
	c.Tokens().Set("stale", "r1")

	req, _ := http.NewRequest(http.MethodGet, c.endpoint("/api/data"), nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if n := p.refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	access, refresh := c.Tokens().Snapshot()
	if access != "fresh+" || refresh != "r1+" {
		t.Errorf("store = (%q, %q)", access, refresh)
	}
}

func TestDo_ConcurrentRefreshIsSingleFlight(t *testing.T) {
	p := &testPlatform{validAccess: "fresh", validRefresh: "r1"}
	c := newTestClient(t, p)
	c.Tokens().Set("stale", "r1")

	const workers = 6
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, workers)
	codes := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req, _ := http.NewRequest(http.MethodGet, c.endpoint("/api/data"), nil)
			resp, err := c.Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("worker %d: %v", i, errs[i])
		} else if codes[i] != http.StatusOK {
			t.Errorf("worker %d: status = %d", i, codes[i])
		}
	}
	p.mu.Lock()
	rotations := p.rotationCount
	p.mu.Unlock()
	if rotations != 1 {
		t.Errorf("rotations = %d, want exactly 1", rotations)
	}
}

func TestRefreshWaiterHonorsItsOwnContext(t *testing.T) {
	p := &testPlatform{validAccess: "fresh", validRefresh: "r1", blockRefresh: make(chan struct{})}
	c := newTestClient(t, p)
	c.Tokens().Set("stale", "r1")

	// First caller starts the rotation; the server holds it open.
	leader := make(chan error, 1)
	go func() {
		_, err := c.refreshSession(context.Background(), "stale")
		leader <- err
	}()
	deadline := time.After(2 * time.Second)
	for p.refreshCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("rotation never reached the server")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Second caller joins the flight, then gives up.
	ctx, cancel := context.WithCancel(context.Background())
	waiter := make(chan error, 1)
	go func() {
		_, err := c.refreshSession(ctx, "stale")
		waiter <- err
	}()
	cancel()
	select {
	case err := <-waiter:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("canceled waiter err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canceled waiter still blocked on the shared rotation")
	}

	// The rotation itself is unaffected by the waiter's cancellation.
	close(p.blockRefresh)
	select {
	case err := <-leader:
		if err != nil {
			t.Fatalf("leader refresh: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("leader refresh never finished")
	}
	if access, refresh := c.Tokens().Snapshot(); access != "fresh+" || refresh != "r1+" {
		t.Errorf("store = (%q, %q)", access, refresh)
	}
}

func TestDo_RefreshFailureTearsDownSession(t *testing.T) {
	p := &testPlatform{validAccess: "fresh", validRefresh: "r1", failRefresh: true}
	c := newTestClient(t, p)
	c.Tokens().Set("stale", "r1")

	req, _ := http.NewRequest(http.MethodGet, c.endpoint("/api/data"), nil)
	_, err := c.Do(req)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if access, refresh := c.Tokens().Snapshot(); access != "" || refresh != "" {
		t.Errorf("store not cleared: (%q, %q)", access, refresh)
	}
}

func TestDo_ForbiddenDoesNotRefresh(t *testing.T) {
	p := &testPlatform{validAccess: "fresh", validRefresh: "r1"}
	c := newTestClient(t, p)
	c.Tokens().Set("fresh", "r1")

	req, _ := http.NewRequest(http.MethodGet, c.endpoint("/api/forbidden"), nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if n := p.refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0", n)
	}
}

func TestDo_RefreshEndpointNeverRecurses(t *testing.T) {
	p := &testPlatform{validAccess: "fresh", validRefresh: "r1", failRefresh: true}
	c := newTestClient(t, p)
	c.Tokens().Set("stale", "old-refresh")

	req, _ := http.NewRequest(http.MethodPost, c.endpoint("/auth/refresh"), strings.NewReader(`{"refresh_token":"old-refresh"}`))
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 passed through", resp.StatusCode)
	}
	if n := p.refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1 (no recursion)", n)
	}
}

func TestDo_ReplaysBodyOnce(t *testing.T) {
	p := &testPlatform{validAccess: "fresh", validRefresh: "r1"}
	c := newTestClient(t, p)
	c.Tokens().Set("stale", "r1")

	req, _ := http.NewRequest(http.MethodPost, c.endpoint("/api/data"), strings.NewReader(`{"n":1}`))
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	// Initial attempt plus exactly one replay.
	if n := p.apiCalls.Load(); n != 2 {
		t.Errorf("api calls = %d, want 2", n)
	}
}

func TestLoginPrimesStore(t *testing.T) {
	p := &testPlatform{validAccess: "fresh", validRefresh: "r1"}
	c := newTestClient(t, p)

	if err := c.Login(context.Background(), "ada@example.com", "correct horse"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	access, refresh := c.Tokens().Snapshot()
	if access != "fresh" || refresh != "r1" {
		t.Errorf("store = (%q, %q)", access, refresh)
	}

	req, _ := http.NewRequest(http.MethodGet, c.endpoint("/api/data"), nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if n := p.refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0", n)
	}
}
