package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

type BreakerSettings struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

// Breaker fails fast with gobreaker.ErrOpenState once the carrier keeps
// failing. It never retries.
type Breaker struct {
	next Doer
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Doer, s BreakerSettings) *Breaker {
	if s.Name == "" {
		s.Name = "carrier"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 20 * time.Second
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 10
	}
	threshold := s.ConsecutiveFailures
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: s.MaxRequests,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= threshold },
		}),
	}
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Do counts transport errors and 5xx responses as failures. A 5xx response
// is still handed back to the caller so the carrier body can be inspected.
// Errors caused by the caller cancelling its own request are not counted.
func (b *Breaker) Do(req *http.Request) (*http.Response, error) {
	var (
		resp      *http.Response
		callerErr error
	)
	_, err := b.cb.Execute(func() (any, error) {
		r, err := b.next.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				callerErr = err
				return nil, nil
			}
			return nil, err
		}
		resp = r
		if r.StatusCode >= 500 {
			return nil, upstreamError(r.StatusCode)
		}
		return nil, nil
	})
	switch {
	case callerErr != nil:
		return nil, callerErr
	case resp != nil:
		return resp, nil
	}
	return nil, err
}

type upstreamError int

func (e upstreamError) Error() string { return fmt.Sprintf("carrier returned %d", int(e)) }

// IsOpen reports whether err came from a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
