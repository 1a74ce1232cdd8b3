package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"smsgw/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func tokenServer(t *testing.T, fetches *int32, handler func(w http.ResponseWriter, r *http.Request, n int32)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(fetches, 1)
		handler(w, r, n)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, url string, clock *fakeClock) *OAuth2 {
	t.Helper()
	p, err := NewOAuth2(OAuth2Config{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthEndpoint: url,
		Now:          clock.Now,
	}, http.DefaultClient)
	require.NoError(t, err)
	return p
}

func TestOAuth2FetchesWithBasicAuthAndCaches(t *testing.T) {
	var fetches int32
	srv := tokenServer(t, &fetches, func(w http.ResponseWriter, r *http.Request, n int32) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client", user)
		require.Equal(t, "secret", pass)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "client_credentials", body["grant_type"])

		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	})
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p := newProvider(t, srv.URL, clock)

	c, err := p.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", c.Token)
	require.Equal(t, "Bearer tok-1", c.AuthorizationHeader())
	require.Equal(t, clock.Now().Add(time.Hour), c.ExpiresAt)

	clock.Advance(30 * time.Minute)
	_, err = p.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestOAuth2RefreshesInsideSkewWindow(t *testing.T) {
	var fetches int32
	srv := tokenServer(t, &fetches, func(w http.ResponseWriter, r *http.Request, n int32) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": fmt.Sprintf("tok-%d", n), "expires_in": "120"})
	})
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p := newProvider(t, srv.URL, clock)

	c1, err := p.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", c1.Token)

	// 120s lifetime, 30s skew: at +95s the token counts as expired.
	clock.Advance(95 * time.Second)
	c2, err := p.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", c2.Token)
	require.Equal(t, int32(2), atomic.LoadInt32(&fetches))
}

func TestOAuth2FallbackLifetime(t *testing.T) {
	var fetches int32
	srv := tokenServer(t, &fetches, func(w http.ResponseWriter, r *http.Request, n int32) {
		_, _ = w.Write([]byte(`{"access_token":"tok"}`))
	})
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p := newProvider(t, srv.URL, clock)

	c, err := p.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(DefaultTokenLifetime), c.ExpiresAt)
}

func TestOAuth2Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"non 2xx", http.StatusUnauthorized, `{"error":"invalid_client"}`},
		{"missing token", http.StatusOK, `{"token_type":"bearer"}`},
		{"not json", http.StatusOK, `<html>oops</html>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var fetches int32
			srv := tokenServer(t, &fetches, func(w http.ResponseWriter, r *http.Request, n int32) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			p := newProvider(t, srv.URL, &fakeClock{now: time.Unix(1_700_000_000, 0)})

			_, err := p.Credential(context.Background())
			var ae *AuthError
			require.True(t, errors.As(err, &ae))
			require.Equal(t, tc.status, ae.StatusCode)
			require.Equal(t, tc.body, ae.Body)

			// failures are not cached
			_, _ = p.Credential(context.Background())
			require.Equal(t, int32(2), atomic.LoadInt32(&fetches))
		})
	}
}

func TestOAuth2ConcurrentCallersShareOneFetch(t *testing.T) {
	var fetches int32
	release := make(chan struct{})
	srv := tokenServer(t, &fetches, func(w http.ResponseWriter, r *http.Request, n int32) {
		<-release
		_, _ = w.Write([]byte(`{"access_token":"shared","expires_in":3600}`))
	})
	p := newProvider(t, srv.URL, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Credential(context.Background())
			tokens[i], errs[i] = c.Token, err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&fetches))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "shared", tokens[i])
	}
}

func TestOAuth2ExpiredTokenConcurrentRefresh(t *testing.T) {
	var fetches int32
	release := make(chan struct{})
	srv := tokenServer(t, &fetches, func(w http.ResponseWriter, r *http.Request, n int32) {
		if n > 1 {
			<-release
		}
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)
	})
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p := newProvider(t, srv.URL, clock)

	c, err := p.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", c.Token)

	clock.Advance(time.Hour - DefaultExpirySkew)

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Credential(context.Background())
			tokens[i], errs[i] = c.Token, err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(2), atomic.LoadInt32(&fetches))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "tok-2", tokens[i])
	}
}

func TestOAuth2CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	var fetches int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := tokenServer(t, &fetches, func(w http.ResponseWriter, r *http.Request, n int32) {
		close(started)
		<-release
		_, _ = w.Write([]byte(`{"access_token":"shared","expires_in":3600}`))
	})
	p := newProvider(t, srv.URL, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := p.Credential(leaderCtx)
		leaderErr <- err
	}()
	<-started

	type result struct {
		c   Credential
		err error
	}
	follower := make(chan result, 1)
	go func() {
		c, err := p.Credential(context.Background())
		follower <- result{c, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	err := <-leaderErr
	require.ErrorIs(t, err, context.Canceled)
	var ae *AuthError
	require.True(t, errors.As(err, &ae))

	close(release)
	res := <-follower
	require.NoError(t, res.err)
	require.Equal(t, "shared", res.c.Token)
	require.Equal(t, int32(1), atomic.LoadInt32(&fetches))

	// the fetch finished and was cached even though its first caller left
	c, err := p.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, "shared", c.Token)
	require.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestOAuth2Invalidate(t *testing.T) {
	var fetches int32
	srv := tokenServer(t, &fetches, func(w http.ResponseWriter, r *http.Request, n int32) {
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	p := newProvider(t, srv.URL, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	_, err := p.Credential(context.Background())
	require.NoError(t, err)
	p.Invalidate()
	_, err = p.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&fetches))
}

func TestNewOAuth2FailsFast(t *testing.T) {
	_, err := NewOAuth2(OAuth2Config{ClientSecret: "s", AuthEndpoint: "http://x"}, http.DefaultClient)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = NewOAuth2(OAuth2Config{ClientID: "c", ClientSecret: "s", AuthEndpoint: "http://x"}, nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestStatic(t *testing.T) {
	_, err := NewStatic("", SchemeBearer)
	require.ErrorIs(t, err, domain.ErrValidation)

	s, err := NewStatic("key-1", SchemeRaw)
	require.NoError(t, err)
	c, err := s.Credential(context.Background())
	require.NoError(t, err)
	require.True(t, c.Static())
	require.Equal(t, "key-1", c.AuthorizationHeader())

	c.Scheme = SchemeBasic
	require.Equal(t, "Basic a2V5LTE6", c.AuthorizationHeader())
	c.Scheme = SchemeBearer
	require.Equal(t, "Bearer key-1", c.AuthorizationHeader())

	_, err = ParseScheme("digest")
	require.ErrorIs(t, err, domain.ErrValidation)
}
