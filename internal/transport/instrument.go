package transport

import (
	"net/http"
	"strconv"
	"time"

	"smsgw/internal/observability"
)

// Instrumented records carrier round-trip outcomes and latency.
type Instrumented struct {
	Next Doer
}

func (i Instrumented) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := i.Next.Do(req)
	observability.CarrierLatency.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.CarrierRequests.WithLabelValues(req.Method, "error", "0").Inc()
		return nil, err
	}
	result := "ok"
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result = "http_error"
	}
	observability.CarrierRequests.WithLabelValues(req.Method, result, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}
