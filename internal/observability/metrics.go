package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsgw_api_requests_total", Help: "API requests"},
		[]string{"route", "status"},
	)
	CarrierRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "carrier_http_requests_total", Help: "Carrier HTTP round trips"},
		[]string{"method", "result", "http_status"},
	)
	CarrierLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "carrier_http_latency_seconds", Help: "Carrier HTTP latency"},
		[]string{"method"},
	)
	CarrierSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "carrier_send_total", Help: "Carrier send outcomes"},
		[]string{"protocol", "result"},
	)
	TokenFetch = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "carrier_token_fetch_total", Help: "OAuth2 token fetches"},
		[]string{"result"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "carrier_webhook_events_total", Help: "Carrier webhook events"},
		[]string{"kind", "result"},
	)
	ProcessedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsgw_processed_events_total", Help: "Inbound events archived"},
		[]string{"kind", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, CarrierRequests, CarrierLatency, CarrierSend, TokenFetch, WebhookEvents, ProcessedEvents)
}
