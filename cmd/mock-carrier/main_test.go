package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"smsgw/internal/carrier"
	"smsgw/internal/domain"
	"smsgw/internal/gateway"
)

func mockServer(t *testing.T, cfg config) *httptest.Server {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "mock_key"
	}
	cfg.ClientID, cfg.Secret, cfg.TokenTTL = "cid", "csecret", 3600
	srv := httptest.NewServer(newServer(cfg).routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifyOutcome(t *testing.T) {
	require.Equal(t, "DELIVRD", classifyOutcome("ok").finalStatus)
	require.Equal(t, "UNDELIV", classifyOutcome("undelivered").finalStatus)
	require.Equal(t, outcome{rejected: true, message: "Blocked"}, classifyOutcome("rejected:Blocked"))
	require.Equal(t, http.StatusTooManyRequests, classifyOutcome("429").httpStatus)
	require.True(t, classifyOutcome("malformed").malformed)
	require.Equal(t, http.StatusInternalServerError, classifyOutcome("nope").httpStatus)
}

func TestPickWeighted(t *testing.T) {
	items := parseWeightedOutcomes("undelivered:3, rejected:1, bogus, x:0")
	require.Len(t, items, 2)
	require.Equal(t, "undelivered", pickWeighted(0.5, items))
	require.Equal(t, "rejected", pickWeighted(0.99, items))
	require.Equal(t, "undelivered", pickWeighted(0.5, nil))
}

func TestRoundRobinOutcomes(t *testing.T) {
	s := newServer(config{OutcomeMode: "round_robin", Outcomes: []string{"ok", "rejected"}})
	require.Equal(t, []string{"ok", "rejected", "ok"}, []string{s.nextOutcome(), s.nextOutcome(), s.nextOutcome()})
}

func TestAuthorizedSchemes(t *testing.T) {
	s := newServer(config{APIKey: "k"})
	require.True(t, s.authorized("k"))
	require.True(t, s.authorized("Bearer k"))
	require.True(t, s.authorized("Basic azo="))
	require.False(t, s.authorized("Bearer other"))
	require.False(t, s.authorized(""))
}

func TestGatewayAgainstMockV1(t *testing.T) {
	srv := mockServer(t, config{Outcomes: []string{"ok"}})
	gw, err := gateway.New(gateway.Config{Endpoint: srv.URL + "/v1", APIKey: "mock_key", DefaultFrom: "8199"}, srv.Client())
	require.NoError(t, err)

	msg := &domain.Message{To: "8170", Text: "hello"}
	require.NoError(t, gw.Send(context.Background(), msg))
	require.True(t, strings.HasPrefix(msg.ID, "RK"))

	rep, err := gw.CheckStatus(context.Background(), msg.ID)
	require.NoError(t, err)
	// the delivery callback may already have landed
	require.Contains(t, []domain.DeliveryStatus{domain.StatusSent, domain.StatusDelivered}, rep.Status)
}

func TestGatewayAgainstMockV1Rejected(t *testing.T) {
	srv := mockServer(t, config{Outcomes: []string{"rejected:Blocked"}})
	gw, err := gateway.New(gateway.Config{Endpoint: srv.URL + "/v1", APIKey: "mock_key", DefaultFrom: "8199"}, srv.Client())
	require.NoError(t, err)

	err = gw.Send(context.Background(), &domain.Message{To: "8170", Text: "hello"})
	var se *gateway.SendError
	require.ErrorAs(t, err, &se)
	require.Equal(t, gateway.CauseCarrier, se.Cause)
}

func TestGatewayAgainstMockOAuth2(t *testing.T) {
	srv := mockServer(t, config{Outcomes: []string{"ok"}})
	gw, err := gateway.New(gateway.Config{
		Endpoint:     srv.URL + "/v2",
		AuthMode:     gateway.AuthOAuth2,
		ClientID:     "cid",
		ClientSecret: "csecret",
		AuthEndpoint: srv.URL + "/oauth/token",
		DefaultFrom:  "8199",
	}, srv.Client())
	require.NoError(t, err)
	require.Equal(t, carrier.NameV2, gw.Protocol())

	msgs := []*domain.Message{{To: "8170", Text: "a"}, {To: "8171", Text: "b"}}
	require.NoError(t, gw.SendBatch(context.Background(), msgs))
	require.NotEmpty(t, msgs[0].ID)
	require.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestMockRateLimit(t *testing.T) {
	srv := mockServer(t, config{Outcomes: []string{"ok"}, RateLimitRPS: 0.001, RateLimitBurst: 1})
	gw, err := gateway.New(gateway.Config{Endpoint: srv.URL + "/v1", APIKey: "mock_key", DefaultFrom: "8199"}, srv.Client())
	require.NoError(t, err)

	require.NoError(t, gw.Send(context.Background(), &domain.Message{To: "8170", Text: "a"}))
	err = gw.Send(context.Background(), &domain.Message{To: "8170", Text: "b"})
	var se *gateway.SendError
	require.ErrorAs(t, err, &se)
}

func TestPostWebhookSigned(t *testing.T) {
	var gotSig string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Rakuten-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	s := newServer(config{WebhookSecret: "s3cret"})
	body := []byte(`{"message_id":"RK1","status":"DELIVRD"}`)
	require.NoError(t, s.postWebhookWithRetry(context.Background(), hook.URL, body))
	require.Equal(t, carrier.Sign("s3cret", body), gotSig)
}

func TestPostWebhookNonRetryable(t *testing.T) {
	calls := 0
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer hook.Close()

	s := newServer(config{WebhookMaxRetries: 3})
	require.Error(t, s.postWebhookWithRetry(context.Background(), hook.URL, []byte(`{}`)))
	require.Equal(t, 1, calls)
}
