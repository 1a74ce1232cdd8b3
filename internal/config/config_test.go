package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"smsgw/internal/credentials"
	"smsgw/internal/gateway"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("RAKUTEN_API_ENDPOINT", "https://sms.example.test/send")
	t.Setenv("RAKUTEN_API_KEY", "key-1")
	t.Setenv("RAKUTEN_FROM", "8199")

	cfg, err := LoadAPI()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 100, cfg.MaxBatchSize)
	require.Equal(t, 8*time.Second, cfg.HTTPTimeout)

	gc, err := cfg.Gateway()
	require.NoError(t, err)
	require.Equal(t, gateway.AuthAPIKey, gc.AuthMode)
	require.Equal(t, credentials.SchemeBearer, gc.AuthScheme)
	require.Equal(t, "8199", gc.DefaultFrom)
	require.Equal(t, 30*time.Second, gc.TokenSkew)

	_, err = gateway.New(gc, nil)
	require.Error(t, err)
	doer, br := cfg.Transport()
	require.NotNil(t, br)
	_, err = gateway.New(gc, doer)
	require.NoError(t, err)
}

func TestLoadAPIRequiresEndpoint(t *testing.T) {
	t.Setenv("RAKUTEN_API_ENDPOINT", "")
	require.NoError(t, os.Unsetenv("RAKUTEN_API_ENDPOINT"))
	_, err := LoadAPI()
	require.Error(t, err)
}

func TestGatewayOAuth2(t *testing.T) {
	t.Setenv("RAKUTEN_API_ENDPOINT", "https://sms.example.test/v2/messages")
	t.Setenv("RAKUTEN_AUTH_MODE", "oauth2")
	t.Setenv("RAKUTEN_CLIENT_ID", "client")
	t.Setenv("RAKUTEN_CLIENT_SECRET", "secret")
	t.Setenv("RAKUTEN_AUTH_ENDPOINT", "https://auth.example.test/token")
	t.Setenv("RAKUTEN_TOKEN_SKEW", "1m")

	cfg, err := LoadAPI()
	require.NoError(t, err)
	gc, err := cfg.Gateway()
	require.NoError(t, err)
	require.Equal(t, gateway.AuthOAuth2, gc.AuthMode)
	require.Equal(t, time.Minute, gc.TokenSkew)

	g, err := gateway.New(gc, nil)
	require.Error(t, err)
	require.Nil(t, g)
}

func TestGatewayRejectsUnknownScheme(t *testing.T) {
	_, err := GatewayConfig{APIEndpoint: "https://x.test", APIKey: "k", AuthScheme: "digest"}.Gateway()
	require.Error(t, err)
}

func TestLoadEventProcessor(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/sms")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("SQS_INBOUND_QUEUE_URL", "http://localhost:4566/000000000000/inbound")

	cfg, err := LoadEventProcessor()
	require.NoError(t, err)
	require.EqualValues(t, 20, cfg.SQSWaitTime)
	require.Equal(t, 8, cfg.ProcessorConcurrency)
}
