// Package credentials supplies the Authorization header value for carrier
// calls, either from a static API key or from a cached OAuth2
// client-credentials token.
package credentials

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"smsgw/internal/domain"
)

// Scheme selects how a credential is rendered into the Authorization header.
type Scheme string

const (
	SchemeBearer Scheme = "bearer"
	SchemeRaw    Scheme = "raw"
	SchemeBasic  Scheme = "basic"
)

func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeBearer:
		return SchemeBearer, nil
	case SchemeRaw:
		return SchemeRaw, nil
	case SchemeBasic:
		return SchemeBasic, nil
	default:
		return "", &domain.ValidationError{Field: "auth_scheme", Reason: fmt.Sprintf("unsupported scheme %q", s)}
	}
}

// Credential is a static key (zero ExpiresAt) or an OAuth2 access token.
type Credential struct {
	Scheme    Scheme
	Token     string
	ExpiresAt time.Time
}

func (c Credential) Static() bool { return c.ExpiresAt.IsZero() }

func (c Credential) AuthorizationHeader() string {
	switch c.Scheme {
	case SchemeRaw:
		return c.Token
	case SchemeBasic:
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Token+":"))
	default:
		return "Bearer " + c.Token
	}
}

type Provider interface {
	Credential(ctx context.Context) (Credential, error)
}

// Static never expires and never fails once constructed.
type Static struct {
	cred Credential
}

func NewStatic(apiKey string, scheme Scheme) (*Static, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.Required("api_key")
	}
	if scheme == "" {
		scheme = SchemeBearer
	}
	return &Static{cred: Credential{Scheme: scheme, Token: apiKey}}, nil
}

func (s *Static) Credential(ctx context.Context) (Credential, error) {
	return s.cred, nil
}

// AuthError reports a failed token fetch. Body holds the carrier's raw
// response for diagnostics.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	msg := "carrier auth failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }
