package gateway

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"smsgw/internal/carrier"
	"smsgw/internal/credentials"
	"smsgw/internal/domain"
)

type AuthMode string

const (
	AuthAPIKey AuthMode = "api_key"
	AuthOAuth2 AuthMode = "oauth2"
)

// Config is fixed once the Gateway is built.
type Config struct {
	Endpoint string
	AuthMode AuthMode
	// Protocol defaults to v1 for api_key and v2 for oauth2.
	Protocol string

	APIKey     string
	AuthScheme credentials.Scheme

	ClientID     string
	ClientSecret string
	AuthEndpoint string
	TokenSkew    time.Duration

	DefaultFrom string
}

func (c Config) normalized() (Config, error) {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	if c.Endpoint == "" {
		return c, domain.Required("endpoint")
	}
	if err := absoluteURL("endpoint", c.Endpoint); err != nil {
		return c, err
	}

	if c.AuthMode == "" {
		c.AuthMode = AuthAPIKey
	}
	switch c.AuthMode {
	case AuthAPIKey:
		if strings.TrimSpace(c.APIKey) == "" {
			return c, domain.Required("api_key")
		}
		if c.Protocol == "" {
			c.Protocol = carrier.NameV1
		}
	case AuthOAuth2:
		switch {
		case strings.TrimSpace(c.ClientID) == "":
			return c, domain.Required("client_id")
		case strings.TrimSpace(c.ClientSecret) == "":
			return c, domain.Required("client_secret")
		case strings.TrimSpace(c.AuthEndpoint) == "":
			return c, domain.Required("auth_endpoint")
		}
		if err := absoluteURL("auth_endpoint", c.AuthEndpoint); err != nil {
			return c, err
		}
		if c.Protocol == "" {
			c.Protocol = carrier.NameV2
		}
	default:
		return c, &domain.ValidationError{Field: "auth_mode", Reason: fmt.Sprintf("unsupported auth mode %q", c.AuthMode)}
	}
	return c, nil
}

func absoluteURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &domain.ValidationError{Field: field, Reason: "must be an absolute URL"}
	}
	return nil
}
