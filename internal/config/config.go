package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"smsgw/internal/credentials"
	"smsgw/internal/gateway"
	"smsgw/internal/transport"
)

// GatewayConfig holds the carrier settings shared by every binary that
// builds a Gateway.
type GatewayConfig struct {
	APIEndpoint string `envconfig:"RAKUTEN_API_ENDPOINT" required:"true"`
	AuthMode    string `envconfig:"RAKUTEN_AUTH_MODE" default:"api_key"`
	Protocol    string `envconfig:"RAKUTEN_PROTOCOL"`
	From        string `envconfig:"RAKUTEN_FROM"`

	APIKey     string `envconfig:"RAKUTEN_API_KEY"`
	AuthScheme string `envconfig:"RAKUTEN_AUTH_SCHEME" default:"bearer"`

	ClientID     string        `envconfig:"RAKUTEN_CLIENT_ID"`
	ClientSecret string        `envconfig:"RAKUTEN_CLIENT_SECRET"`
	AuthEndpoint string        `envconfig:"RAKUTEN_AUTH_ENDPOINT"`
	TokenSkew    time.Duration `envconfig:"RAKUTEN_TOKEN_SKEW" default:"30s"`

	HTTPTimeout        time.Duration `envconfig:"RAKUTEN_HTTP_TIMEOUT" default:"8s"`
	BreakerFailures    uint32        `envconfig:"RAKUTEN_BREAKER_FAILURES" default:"10"`
	BreakerOpenTimeout time.Duration `envconfig:"RAKUTEN_BREAKER_OPEN_TIMEOUT" default:"20s"`
}

// Gateway converts the env settings. Field validation is left to
// gateway.New.
func (c GatewayConfig) Gateway() (gateway.Config, error) {
	scheme, err := credentials.ParseScheme(c.AuthScheme)
	if err != nil {
		return gateway.Config{}, err
	}
	return gateway.Config{
		Endpoint:     c.APIEndpoint,
		AuthMode:     gateway.AuthMode(c.AuthMode),
		Protocol:     c.Protocol,
		APIKey:       c.APIKey,
		AuthScheme:   scheme,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		AuthEndpoint: c.AuthEndpoint,
		TokenSkew:    c.TokenSkew,
		DefaultFrom:  c.From,
	}, nil
}

// Transport builds the carrier HTTP stack: timeout client, breaker, metrics.
func (c GatewayConfig) Transport() (transport.Doer, *transport.Breaker) {
	br := transport.NewBreaker(transport.NewHTTPClient(c.HTTPTimeout), transport.BreakerSettings{
		Name:                "rakuten",
		OpenTimeout:         c.BreakerOpenTimeout,
		ConsecutiveFailures: c.BreakerFailures,
	})
	return transport.Instrumented{Next: br}, br
}

type APIConfig struct {
	GatewayConfig

	Port         string `envconfig:"PORT" default:"8080"`
	MetricsPort  string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	MaxBatchSize int    `envconfig:"MAX_BATCH_SIZE" default:"100"`
}

type WebhookConfig struct {
	GatewayConfig

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Empty disables signature verification.
	WebhookSecret   string `envconfig:"RAKUTEN_WEBHOOK_SECRET"`
	SignatureHeader string `envconfig:"RAKUTEN_SIGNATURE_HEADER" default:"X-Rakuten-Signature"`
	MaxBodyBytes    int64  `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	InboundQueueURL    string `envconfig:"SQS_INBOUND_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type EventProcessorConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	InboundQueueURL    string `envconfig:"SQS_INBOUND_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	ProcessorConcurrency int `envconfig:"PROCESSOR_CONCURRENCY" default:"8"`
}

func LoadAPI() (APIConfig, error) {
	var cfg APIConfig
	if err := load(&cfg); err != nil {
		return APIConfig{}, err
	}
	return cfg, nil
}

func LoadWebhook() (WebhookConfig, error) {
	var cfg WebhookConfig
	if err := load(&cfg); err != nil {
		return WebhookConfig{}, err
	}
	return cfg, nil
}

func LoadEventProcessor() (EventProcessorConfig, error) {
	var cfg EventProcessorConfig
	if err := load(&cfg); err != nil {
		return EventProcessorConfig{}, err
	}
	return cfg, nil
}

// load reads an optional .env file, then the process environment. Values
// already set in the environment win over the file.
func load(cfg any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return envconfig.Process("", cfg)
}
