package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"smsgw/internal/domain"
	"smsgw/internal/observability"
	"smsgw/internal/transport"
)

const (
	DefaultTokenLifetime = time.Hour
	DefaultExpirySkew    = 30 * time.Second
	DefaultFetchTimeout  = 10 * time.Second
)

var ErrMissingToken = errors.New("token response missing access_token")

type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	AuthEndpoint string

	// Skew refreshes the token this long before it actually expires.
	Skew time.Duration
	// FallbackLifetime applies when the response has no usable expires_in.
	FallbackLifetime time.Duration
	// FetchTimeout bounds one token request. The request does not follow
	// any single caller's context, since other callers may share it.
	FetchTimeout time.Duration
	// Now is swapped in tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// OAuth2 caches a client-credentials bearer token in memory. Concurrent
// callers that find the cache stale share a single token fetch.
type OAuth2 struct {
	cfg  OAuth2Config
	http transport.Doer
	log  *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

func NewOAuth2(cfg OAuth2Config, doer transport.Doer) (*OAuth2, error) {
	switch {
	case strings.TrimSpace(cfg.ClientID) == "":
		return nil, domain.Required("client_id")
	case strings.TrimSpace(cfg.ClientSecret) == "":
		return nil, domain.Required("client_secret")
	case strings.TrimSpace(cfg.AuthEndpoint) == "":
		return nil, domain.Required("auth_endpoint")
	case doer == nil:
		return nil, domain.Required("http_client")
	}
	if cfg.Skew <= 0 {
		cfg.Skew = DefaultExpirySkew
	}
	if cfg.FallbackLifetime <= 0 {
		cfg.FallbackLifetime = DefaultTokenLifetime
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OAuth2{cfg: cfg, http: doer, log: cfg.Logger}, nil
}

func (p *OAuth2) Credential(ctx context.Context) (Credential, error) {
	if c, ok := p.cached(); ok {
		return c, nil
	}
	ch := p.group.DoChan("token", func() (any, error) {
		// Another caller may have refreshed while we waited to enter.
		if c, ok := p.cached(); ok {
			return c, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.FetchTimeout)
		defer cancel()
		c, err := p.fetch(fetchCtx)
		if err != nil {
			observability.TokenFetch.WithLabelValues("error").Inc()
			return Credential{}, err
		}
		observability.TokenFetch.WithLabelValues("ok").Inc()
		p.mu.Lock()
		p.token, p.expiresAt = c.Token, c.ExpiresAt
		p.mu.Unlock()
		return c, nil
	})
	select {
	case <-ctx.Done():
		return Credential{}, &AuthError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// Invalidate drops the cached token so the next call fetches a new one.
func (p *OAuth2) Invalidate() {
	p.mu.Lock()
	p.token, p.expiresAt = "", time.Time{}
	p.mu.Unlock()
}

func (p *OAuth2) cached() (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" || !p.cfg.Now().Before(p.expiresAt.Add(-p.cfg.Skew)) {
		return Credential{}, false
	}
	return Credential{Scheme: SchemeBearer, Token: p.token, ExpiresAt: p.expiresAt}, true
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func (p *OAuth2) fetch(ctx context.Context) (Credential, error) {
	body, _ := json.Marshal(map[string]string{"grant_type": "client_credentials"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.AuthEndpoint, bytes.NewReader(body))
	if err != nil {
		return Credential{}, &AuthError{Err: err}
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return Credential{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Warn("carrier token fetch rejected", "status", resp.StatusCode)
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Body: string(raw), Err: errors.New("token endpoint returned non-2xx status")}
	}

	var out tokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Body: string(raw), Err: err}
	}
	if out.AccessToken == "" {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Body: string(raw), Err: ErrMissingToken}
	}

	lifetime := p.cfg.FallbackLifetime
	if secs, ok := parseExpiresIn(out.ExpiresIn); ok {
		lifetime = time.Duration(secs) * time.Second
	}
	return Credential{
		Scheme:    SchemeBearer,
		Token:     out.AccessToken,
		ExpiresAt: p.cfg.Now().Add(lifetime),
	}, nil
}

// parseExpiresIn accepts 3600 as well as "3600".
func parseExpiresIn(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}
