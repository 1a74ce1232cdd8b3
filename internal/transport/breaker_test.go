package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	next := DoerFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return &http.Response{StatusCode: 503, Body: io.NopCloser(strings.NewReader(`{"error_message":"down"}`))}, nil
	})
	b := NewBreaker(next, BreakerSettings{ConsecutiveFailures: 2})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, "http://carrier.test", nil)
		resp, err := b.Do(req)
		require.NoError(t, err)
		require.Equal(t, 503, resp.StatusCode)
		resp.Body.Close()
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	req, _ := http.NewRequest(http.MethodPost, "http://carrier.test", nil)
	resp, err := b.Do(req)
	require.Nil(t, resp)
	require.True(t, errors.Is(err, gobreaker.ErrOpenState))
	require.True(t, IsOpen(err))
	require.False(t, IsOpen(errors.New("dial tcp: refused")))
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBreakerPassesThroughSuccessAndClientErrors(t *testing.T) {
	next := DoerFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 400, Body: io.NopCloser(strings.NewReader(""))}, nil
	})
	b := NewBreaker(next, BreakerSettings{ConsecutiveFailures: 1})
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, "http://carrier.test", nil)
		resp, err := b.Do(req)
		require.NoError(t, err)
		require.Equal(t, 400, resp.StatusCode)
	}
	require.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	var calls int32
	next := DoerFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		if err := req.Context().Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("dial tcp: refused")
	})
	b := NewBreaker(next, BreakerSettings{ConsecutiveFailures: 2})

	for _, mk := range []func() (context.Context, context.CancelFunc){
		func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
		func() (context.Context, context.CancelFunc) { return context.WithTimeout(context.Background(), 0) },
	} {
		for i := 0; i < 3; i++ {
			ctx, cancel := mk()
			cancel()
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "http://carrier.test", nil)
			_, err := b.Do(req)
			require.Error(t, err)
			require.False(t, IsOpen(err))
		}
	}
	require.Equal(t, gobreaker.StateClosed, b.State())

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, "http://carrier.test", nil)
		_, err := b.Do(req)
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, b.State())
	require.Equal(t, int32(8), atomic.LoadInt32(&calls))
}
