// Package gateway sends SMS through the carrier and turns carrier payloads
// into domain values. A Gateway performs no retries and no internal
// parallelism; every call is one synchronous round trip on the injected
// transport.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"smsgw/internal/carrier"
	"smsgw/internal/credentials"
	"smsgw/internal/domain"
	"smsgw/internal/observability"
	"smsgw/internal/transport"
)

// maxResponseBytes bounds how much of a carrier response is read.
const maxResponseBytes = 1 << 20

type Gateway struct {
	cfg      Config
	http     transport.Doer
	creds    credentials.Provider
	protocol carrier.Protocol
	log      *slog.Logger

	mu          sync.RWMutex
	defaultFrom string
}

type Option func(*Gateway)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithCredentials replaces the provider derived from Config.
func WithCredentials(p credentials.Provider) Option {
	return func(g *Gateway) { g.creds = p }
}

// WithProtocol replaces the protocol selected by Config.Protocol.
func WithProtocol(p carrier.Protocol) Option {
	return func(g *Gateway) { g.protocol = p }
}

// New validates cfg and wires the credential provider and protocol. The
// transport is mandatory.
func New(cfg Config, doer transport.Doer, opts ...Option) (*Gateway, error) {
	if doer == nil {
		return nil, domain.Required("http_client")
	}
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}

	g := &Gateway{cfg: cfg, http: doer, log: slog.Default(), defaultFrom: strings.TrimSpace(cfg.DefaultFrom)}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("carrier", "rakuten")

	if g.protocol == nil {
		if g.protocol, err = carrier.ByName(cfg.Protocol); err != nil {
			return nil, err
		}
	}
	if g.creds == nil {
		if g.creds, err = newProvider(cfg, doer, g.log); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func newProvider(cfg Config, doer transport.Doer, log *slog.Logger) (credentials.Provider, error) {
	if cfg.AuthMode == AuthOAuth2 {
		return credentials.NewOAuth2(credentials.OAuth2Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			AuthEndpoint: cfg.AuthEndpoint,
			Skew:         cfg.TokenSkew,
			Logger:       log,
		}, doer)
	}
	return credentials.NewStatic(cfg.APIKey, cfg.AuthScheme)
}

func (g *Gateway) Protocol() string { return g.protocol.Name() }

// SetDefaultFrom sets the sender used when a message has no From.
func (g *Gateway) SetDefaultFrom(addr string) {
	g.mu.Lock()
	g.defaultFrom = strings.TrimSpace(addr)
	g.mu.Unlock()
}

func (g *Gateway) DefaultFrom() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.defaultFrom
}

// Send hands one message to the carrier. On success msg.ID is set when the
// carrier returned an id; on failure msg is left untouched.
func (g *Gateway) Send(ctx context.Context, msg *domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	out := *msg
	if strings.TrimSpace(out.From) == "" {
		out.From = g.DefaultFrom()
	}
	if out.From == "" {
		return domain.Required("from")
	}
	log := g.log.With("protocol", g.protocol.Name(), "to", out.To)

	cred, err := g.creds.Credential(ctx)
	if err != nil {
		observability.CarrierSend.WithLabelValues(g.protocol.Name(), "auth_failed").Inc()
		log.Error("sms credential unavailable", "err", err)
		return authSendError(err)
	}
	log.Debug("sms credential acquired")

	spec, err := g.protocol.BuildSendRequest(g.cfg.Endpoint, out, cred)
	if err != nil {
		return &SendError{Cause: CauseTransport, Err: err}
	}
	log.Debug("sms request built", "url", spec.URL)

	status, body, err := g.roundTrip(ctx, spec)
	if err != nil {
		observability.CarrierSend.WithLabelValues(g.protocol.Name(), "transport_failed").Inc()
		log.Error("sms transport failed", "err", err)
		return &SendError{Cause: CauseTransport, Err: err}
	}
	log.Debug("sms dispatched", "status", status)

	id, err := g.protocol.InterpretSendResponse(status, body)
	if err != nil {
		observability.CarrierSend.WithLabelValues(g.protocol.Name(), "rejected").Inc()
		g.maybeInvalidate(err)
		log.Warn("sms rejected by carrier", "status", status, "err", err, "body", string(body))
		return carrierSendError(err)
	}

	observability.CarrierSend.WithLabelValues(g.protocol.Name(), "ok").Inc()
	if id != "" {
		msg.ID = id
	}
	log.Info("sms sent", "message_id", id)
	return nil
}

// SendBatch sends sequentially and stops at the first failure. Messages
// before the failing one are sent; later ones are never attempted.
func (g *Gateway) SendBatch(ctx context.Context, msgs []*domain.Message) error {
	for i, m := range msgs {
		if err := g.Send(ctx, m); err != nil {
			return &BatchError{Index: i, Err: err}
		}
	}
	return nil
}

// CheckStatus polls the carrier for the delivery state of messageID.
func (g *Gateway) CheckStatus(ctx context.Context, messageID string) (domain.DeliveryReport, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domain.DeliveryReport{}, domain.Required("message_id")
	}
	data, err := g.poll(ctx, func(cred credentials.Credential) carrier.RequestSpec {
		return carrier.BuildStatusRequest(g.cfg.Endpoint, messageID, cred)
	})
	if err != nil {
		return domain.DeliveryReport{}, err
	}
	if id, _ := carrier.StringField(data, "message_id"); id == "" {
		data["message_id"] = messageID
	}
	return g.ReceiveDeliveryReport(data)
}

// FetchInbox polls GET {endpoint}/receive. The carrier JSON is returned as is.
func (g *Gateway) FetchInbox(ctx context.Context) (map[string]any, error) {
	return g.poll(ctx, func(cred credentials.Credential) carrier.RequestSpec {
		return carrier.BuildReceiveRequest(g.cfg.Endpoint, cred)
	})
}

// FetchDeliveryReports polls GET {endpoint}/delivery-report.
func (g *Gateway) FetchDeliveryReports(ctx context.Context) (map[string]any, error) {
	return g.poll(ctx, func(cred credentials.Credential) carrier.RequestSpec {
		return carrier.BuildDeliveryReportRequest(g.cfg.Endpoint, cred)
	})
}

func (g *Gateway) poll(ctx context.Context, build func(credentials.Credential) carrier.RequestSpec) (map[string]any, error) {
	cred, err := g.creds.Credential(ctx)
	if err != nil {
		return nil, authSendError(err)
	}
	spec := build(cred)
	status, body, err := g.roundTrip(ctx, spec)
	if err != nil {
		g.log.Error("carrier poll failed", "url", spec.URL, "err", err)
		return nil, &SendError{Cause: CauseTransport, Err: err}
	}
	data, err := carrier.InterpretPollResponse(status, body)
	if err != nil {
		var ce *carrier.Error
		if errors.As(err, &ce) && ce.Kind == carrier.KindMalformedResponse {
			return nil, &ReceiveError{Reason: ce.Message, Body: ce.Body, Err: err}
		}
		g.maybeInvalidate(err)
		return nil, carrierSendError(err)
	}
	return data, nil
}

func (g *Gateway) roundTrip(ctx context.Context, spec carrier.RequestSpec) (int, []byte, error) {
	req, err := spec.HTTPRequest(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("build carrier request: %w", err)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read carrier response: %w", err)
	}
	return resp.StatusCode, body, nil
}

type invalidator interface{ Invalidate() }

// maybeInvalidate drops a cached token the carrier refused, so the next
// call fetches a fresh one. The failed call itself is not retried.
func (g *Gateway) maybeInvalidate(err error) {
	var ce *carrier.Error
	if !errors.As(err, &ce) || !ce.Unauthorized() {
		return
	}
	if inv, ok := g.creds.(invalidator); ok {
		g.log.Info("carrier refused token, invalidating cache")
		inv.Invalidate()
	}
}

func authSendError(err error) *SendError {
	se := &SendError{Cause: CauseAuth, Err: err}
	var ae *credentials.AuthError
	if errors.As(err, &ae) {
		se.StatusCode = ae.StatusCode
		se.Body = ae.Body
	}
	return se
}

func carrierSendError(err error) *SendError {
	se := &SendError{Cause: CauseCarrier, Message: carrier.UnknownError, Err: err}
	var ce *carrier.Error
	if errors.As(err, &ce) {
		se.StatusCode = ce.StatusCode
		se.Message = ce.Message
		se.Body = ce.Body
	}
	return se
}
