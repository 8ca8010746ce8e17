// Package client is a Go client for the platform that keeps its session
// alive transparently: it attaches the access token to every request and,
// on 401, rotates the refresh secret once and replays the request.
//
// Concurrent 401s collapse into a single rotation; the losers wait for the
// winner's result and replay with the fresh token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrSessionExpired is returned when a refresh attempt fails; the token
// store has been cleared and the caller must authenticate again.
var ErrSessionExpired = errors.New("session expired")

const refreshPath = "/auth/refresh"

// defaultRefreshTimeout bounds the rotation call so a hung auth service
// cannot pile up waiters behind the single flight.
const defaultRefreshTimeout = 10 * time.Second

// Client wraps an http.Client with session handling.
type Client struct {
	base           *url.URL
	http           *http.Client
	store          *TokenStore
	group          singleflight.Group
	refreshTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRefreshTimeout bounds the internal refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

// New returns a Client for the platform at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	c := &Client{
		base:           u,
		http:           &http.Client{Timeout: 30 * time.Second},
		store:          &TokenStore{},
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tokens exposes the store for callers that persist sessions.
func (c *Client) Tokens() *TokenStore { return c.store }

type credentialsBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Login authenticates and primes the token store.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/login"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: login failed with status %d", resp.StatusCode)
	}
	var creds credentialsBody
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return fmt.Errorf("client: decode login response: %w", err)
	}
	c.store.Set(creds.AccessToken, creds.RefreshToken)
	return nil
}

// Logout revokes the current session and clears the store. The store is
// cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, refresh := c.store.Snapshot()
	c.store.Clear()
	if refresh == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/logout"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	drainClose(resp.Body)
	return nil
}

// Do sends the request with the current access token. On 401 it refreshes
// the session (collapsing concurrent refreshes into one) and replays the
// request exactly once. A 403 is returned as-is: the caller is known but not
// permitted, and refreshing would not change that.
//
// Replay requires a rewindable body; requests built with http.NewRequest
// from a *bytes.Reader or similar have GetBody set automatically.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	access, _ := c.store.Snapshot()
	resp, err := c.send(req, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || strings.HasSuffix(req.URL.Path, refreshPath) {
		return resp, nil
	}
	drainClose(resp.Body)

	newAccess, err := c.refreshSession(req.Context(), access)
	if err != nil {
		return nil, err
	}
	replay, err := rewind(req)
	if err != nil {
		return nil, err
	}
	return c.send(replay, newAccess)
}

func (c *Client) send(req *http.Request, access string) (*http.Response, error) {
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	return c.http.Do(req)
}

// refreshSession rotates the refresh secret. staleAccess identifies the
// token the caller failed with: if the store already moved past it, another
// flight refreshed meanwhile and no server call is needed.
//
// Waiters stop waiting when their own ctx is done; the in-flight rotation
// keeps running on its own timeout so the other waiters still get a result.
func (c *Client) refreshSession(ctx context.Context, staleAccess string) (string, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		access, refresh := c.store.Snapshot()
		if access != "" && access != staleAccess {
			return access, nil
		}
		if refresh == "" {
			return "", ErrSessionExpired
		}
		rctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
		defer cancel()
		creds, err := c.callRefresh(rctx, refresh)
		if err != nil {
			// Rotation failed: the session is over for every waiter.
			c.store.Clear()
			return "", err
		}
		c.store.Set(creds.AccessToken, creds.RefreshToken)
		return creds.AccessToken, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) callRefresh(ctx context.Context, refresh string) (*credentialsBody, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(refreshPath), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	defer drainClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, ErrSessionExpired
	}
	var creds credentialsBody
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return &creds, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.base.String(), "/") + path
}

// rewind clones the request with a fresh body for the replay.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("client: cannot replay request without GetBody")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
