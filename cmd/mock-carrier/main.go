// Command mock-carrier is a local stand-in for the Rakuten SMS API. It speaks
// both send protocols, issues OAuth2 tokens, answers status and polling
// requests, and can call back the webhook service with signed delivery
// reports.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/time/rate"

	"smsgw/internal/carrier"
	"smsgw/internal/logging"
	"smsgw/internal/util"
)

type config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	APIKey   string `envconfig:"MOCK_API_KEY" default:"mock_key"`
	ClientID string `envconfig:"MOCK_CLIENT_ID" default:"mock_client"`
	Secret   string `envconfig:"MOCK_CLIENT_SECRET" default:"mock_secret"`
	TokenTTL int    `envconfig:"MOCK_TOKEN_TTL_SECONDS" default:"3600"`

	OutcomeMode       string  `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw       string  `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate       float64 `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	FailureWeightsRaw string  `envconfig:"MOCK_FAILURE_WEIGHTS" default:"undelivered:1"`
	DelayMs           int     `envconfig:"MOCK_DELAY_MS" default:"0"`
	RateLimitRPS      float64 `envconfig:"MOCK_RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst    int     `envconfig:"MOCK_RATE_LIMIT_BURST" default:"10"`
	TimeoutDelayMs    int     `envconfig:"MOCK_TIMEOUT_DELAY_MS" default:"12000"`

	WebhookURL        string `envconfig:"MOCK_WEBHOOK_URL"`
	WebhookSecret     string `envconfig:"MOCK_WEBHOOK_SECRET"`
	WebhookDelayMs    int    `envconfig:"MOCK_WEBHOOK_DELAY_MS" default:"500"`
	WebhookMaxRetries int    `envconfig:"MOCK_WEBHOOK_MAX_RETRIES" default:"5"`
	RetryBaseMs       int    `envconfig:"MOCK_WEBHOOK_RETRY_BASE_MS" default:"250"`
	RetryMaxMs        int    `envconfig:"MOCK_WEBHOOK_RETRY_MAX_MS" default:"10000"`
	RetryJitterPct    int    `envconfig:"MOCK_WEBHOOK_RETRY_JITTER_PCT" default:"20"`

	Outcomes       []string
	FailureWeights []weightedOutcome
}

type weightedOutcome struct {
	Kind   string
	Weight float64
}

type server struct {
	cfg    config
	idx    uint64
	rng    *rand.Rand
	rngMu  sync.Mutex
	client *http.Client
	// nil when carrier throttling is off
	limiter *rate.Limiter

	mu       sync.Mutex
	tokens   map[string]time.Time
	statuses map[string]string
	inbox    []map[string]any
	reports  []map[string]any
}

func main() {
	logging.Init("mock-carrier", os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("mock carrier config load failed", "err", err)
		os.Exit(1)
	}

	s := newServer(cfg)
	slog.Info("mock carrier listening", "port", cfg.Port, "outcome_mode", cfg.OutcomeMode)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("mock carrier server failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (config, error) {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		return config{}, err
	}
	cfg.OutcomeMode = strings.ToLower(strings.TrimSpace(cfg.OutcomeMode))
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	cfg.FailureWeights = parseWeightedOutcomes(cfg.FailureWeightsRaw)
	if len(cfg.FailureWeights) == 0 {
		cfg.FailureWeights = []weightedOutcome{{Kind: "undelivered", Weight: 1}}
	}
	if cfg.WebhookMaxRetries < 0 {
		cfg.WebhookMaxRetries = 0
	}
	return cfg, nil
}

func newServer(cfg config) *server {
	if len(cfg.Outcomes) == 0 {
		cfg.Outcomes = []string{"ok"}
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), max(cfg.RateLimitBurst, 1))
	}
	return &server{
		cfg:      cfg,
		limiter:  limiter,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		client:   &http.Client{Timeout: 5 * time.Second},
		tokens:   map[string]time.Time{},
		statuses: map[string]string{},
	}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/oauth/token", s.handleToken).Methods(http.MethodPost)
	// the endpoint of each protocol is its prefix; polling paths hang off it
	for prefix, send := range map[string]http.HandlerFunc{"/v1": s.handleSendV1, "/v2": s.handleSendV2} {
		r.HandleFunc(prefix, s.authed(send)).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/status/{id}", s.authed(s.handleStatus)).Methods(http.MethodGet)
		r.HandleFunc(prefix+"/receive", s.authed(s.handleReceive)).Methods(http.MethodGet)
		r.HandleFunc(prefix+"/delivery-report", s.authed(s.handleReports)).Methods(http.MethodGet)
	}
	// test hook: queue a mobile-originated message for /receive
	r.HandleFunc("/mock/inbox", s.handleSeedInbox).Methods(http.MethodPost)
	r.Use(loggingMiddleware)
	return r
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("mock carrier request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != s.cfg.ClientID || secret != s.cfg.Secret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}
	var body struct {
		GrantType string `json:"grant_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.GrantType != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}
	tok := "mock_tok_" + strconv.FormatUint(atomic.AddUint64(&s.idx, 1), 10)
	ttl := time.Duration(s.cfg.TokenTTL) * time.Second
	s.mu.Lock()
	s.tokens[tok] = time.Now().Add(ttl)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"access_token": tok, "token_type": "Bearer", "expires_in": s.cfg.TokenTTL})
}

// authed accepts the API key in any supported scheme, or a live token.
func (s *server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r.Header.Get("Authorization")) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "error_message": "Authentication failed"})
			return
		}
		next(w, r)
	}
}

func (s *server) authorized(h string) bool {
	if h == s.cfg.APIKey || h == "Bearer "+s.cfg.APIKey {
		return true
	}
	if user, _, ok := (&http.Request{Header: http.Header{"Authorization": {h}}}).BasicAuth(); ok && user == s.cfg.APIKey {
		return true
	}
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[tok]
	return ok && time.Now().Before(exp)
}

type v1Request struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

type v2Request struct {
	From        string `json:"from"`
	To          string `json:"to"`
	MessageType string `json:"message_type"`
	TextMessage struct {
		Text string `json:"text"`
	} `json:"text_message"`
}

func (s *server) handleSendV1(w http.ResponseWriter, r *http.Request) {
	var req v1Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error_message": "Invalid JSON"})
		return
	}
	if req.To == "" || req.From == "" || req.Message == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error_message": "Missing required parameter"})
		return
	}
	s.send(w, r, carrier.NameV1)
}

func (s *server) handleSendV2(w http.ResponseWriter, r *http.Request) {
	var req v2Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error_message": "Invalid JSON"})
		return
	}
	if req.To == "" || req.From == "" || req.MessageType != "text" || req.TextMessage.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error_message": "Missing required parameter"})
		return
	}
	s.send(w, r, carrier.NameV2)
}

func (s *server) send(w http.ResponseWriter, r *http.Request, protocol string) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": "error", "error_message": "Rate limited"})
		return
	}
	if s.cfg.DelayMs > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(time.Duration(s.cfg.DelayMs) * time.Millisecond):
		}
	}

	out := classifyOutcome(s.nextOutcome())
	switch {
	case out.timeout:
		time.Sleep(time.Duration(s.cfg.TimeoutDelayMs) * time.Millisecond)
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error_message": "Request timed out"})
		return
	case out.malformed:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	case out.httpStatus != 0:
		writeJSON(w, out.httpStatus, map[string]any{"status": "error", "error_message": out.message})
		return
	case out.rejected:
		if protocol == carrier.NameV1 {
			writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error_message": out.message})
		} else {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error_message": out.message})
		}
		return
	}

	id := fmtMessageID(atomic.AddUint64(&s.idx, 1))
	s.setStatus(id, "SUBMITTED", false)
	if protocol == carrier.NameV1 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message_id": id})
	} else {
		writeJSON(w, http.StatusCreated, map[string]any{"message_id": id, "status": "accepted"})
	}
	go s.finish(id, out.finalStatus)
}

// finish moves id to its final status and reports it.
func (s *server) finish(id, status string) {
	time.Sleep(time.Duration(s.cfg.WebhookDelayMs) * time.Millisecond)
	s.setStatus(id, status, true)
	if s.cfg.WebhookURL == "" {
		return
	}
	body, _ := json.Marshal(map[string]any{"message_id": id, "status": status})
	if err := s.postWebhookWithRetry(context.Background(), s.cfg.WebhookURL, body); err != nil {
		slog.Error("mock webhook delivery gave up", "message_id", id, "err", err)
	}
}

func (s *server) setStatus(id, status string, report bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	if report {
		s.reports = append(s.reports, map[string]any{"message_id": id, "status": status})
	}
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	st, ok := s.statuses[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error_message": "Unknown message_id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message_id": id, "status": st})
}

func (s *server) handleReceive(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	msgs := s.inbox
	s.inbox = nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"messages": nonNil(msgs)})
}

func (s *server) handleReports(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reports := s.reports
	s.reports = nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"reports": nonNil(reports)})
}

func (s *server) handleSeedInbox(w http.ResponseWriter, r *http.Request) {
	var msg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error_message": "Invalid JSON"})
		return
	}
	if _, ok := msg["message_id"]; !ok {
		msg["message_id"] = util.NewEventID()
	}
	s.mu.Lock()
	s.inbox = append(s.inbox, msg)
	s.mu.Unlock()
	writeJSON(w, http.StatusAccepted, msg)
}

func (s *server) postWebhookWithRetry(ctx context.Context, url string, body []byte) error {
	maxAttempts := s.cfg.WebhookMaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.WebhookSecret != "" {
			req.Header.Set("X-Rakuten-Signature", carrier.Sign(s.cfg.WebhookSecret, body))
		}

		resp, err := s.client.Do(req)
		status := 0
		var retryAfter time.Duration
		if resp != nil {
			status = resp.StatusCode
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			_ = resp.Body.Close()
		}
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		if attempt == maxAttempts-1 {
			if err != nil {
				return err
			}
			return fmt.Errorf("webhook post failed: status=%d", status)
		}
		if err == nil && !isRetryableStatus(status) {
			return fmt.Errorf("webhook post non-retryable: status=%d", status)
		}

		wait := retryAfter
		if wait <= 0 {
			wait = s.retryBackoff(attempt)
		}
		slog.Warn("mock webhook post retrying", "url", url, "attempt", attempt+1, "status", status, "wait_ms", wait.Milliseconds())
		time.Sleep(wait)
	}
	return nil
}

func (s *server) retryBackoff(attempt int) time.Duration {
	base := time.Duration(s.cfg.RetryBaseMs) * time.Millisecond
	max := time.Duration(s.cfg.RetryMaxMs) * time.Millisecond
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	wait := base << attempt
	if wait > max || wait <= 0 {
		wait = max
	}

	jp := min(s.cfg.RetryJitterPct, 100)
	delta := int64(wait) * int64(jp) / 100
	if delta <= 0 {
		return wait
	}
	s.rngMu.Lock()
	j := s.rng.Int63n(2*delta+1) - delta
	s.rngMu.Unlock()
	return time.Duration(int64(wait) + j)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.idx, 1) - 1
		return s.cfg.Outcomes[int(idx%uint64(len(s.cfg.Outcomes)))]
	case "weighted":
		s.rngMu.Lock()
		ok := s.rng.Float64() <= s.cfg.SuccessRate
		r := s.rng.Float64()
		s.rngMu.Unlock()
		if ok {
			return "ok"
		}
		return pickWeighted(r, s.cfg.FailureWeights)
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

type outcome struct {
	finalStatus string
	rejected    bool
	malformed   bool
	timeout     bool
	httpStatus  int
	message     string
}

// classifyOutcome reads tokens like "ok", "undelivered", "rejected:Blocked".
func classifyOutcome(raw string) outcome {
	kind, msg, _ := strings.Cut(strings.TrimSpace(raw), ":")
	switch kind {
	case "", "ok", "success":
		return outcome{finalStatus: "DELIVRD"}
	case "undelivered":
		return outcome{finalStatus: "UNDELIV"}
	case "expired":
		return outcome{finalStatus: "EXPIRED"}
	case "rejected":
		return outcome{rejected: true, message: orDefault(msg, "Invalid destination number")}
	case "malformed":
		return outcome{malformed: true}
	case "unauthorized", "401":
		return outcome{httpStatus: http.StatusUnauthorized, message: orDefault(msg, "Token expired")}
	case "rate_limit", "429":
		return outcome{httpStatus: http.StatusTooManyRequests, message: orDefault(msg, "Rate limited")}
	case "bad_request", "400":
		return outcome{httpStatus: http.StatusBadRequest, message: orDefault(msg, "Bad request")}
	case "server_error", "500":
		return outcome{httpStatus: http.StatusInternalServerError, message: orDefault(msg, "Server error")}
	case "timeout":
		return outcome{timeout: true}
	default:
		return outcome{httpStatus: http.StatusInternalServerError, message: "mock error: " + kind}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fmtMessageID(i uint64) string {
	return fmt.Sprintf("RK%08d", i)
}

func nonNil(v []map[string]any) []map[string]any {
	if v == nil {
		return []map[string]any{}
	}
	return v
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}

func parseWeightedOutcomes(s string) []weightedOutcome {
	var out []weightedOutcome
	for _, p := range strings.Split(s, ",") {
		kind, weight, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok || strings.TrimSpace(kind) == "" {
			continue
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
		if err != nil || w <= 0 {
			continue
		}
		out = append(out, weightedOutcome{Kind: strings.TrimSpace(kind), Weight: w})
	}
	return out
}

func pickWeighted(r float64, items []weightedOutcome) string {
	if len(items) == 0 {
		return "undelivered"
	}
	var total float64
	for _, it := range items {
		total += it.Weight
	}
	target := r * total
	var cumulative float64
	for _, it := range items {
		cumulative += it.Weight
		if target <= cumulative {
			return it.Kind
		}
	}
	return items[len(items)-1].Kind
}
