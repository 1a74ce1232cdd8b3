package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Check is one named readiness dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type readiness struct {
	Status string   `json:"status"`
	Failed []string `json:"failed,omitempty"`
}

func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, readiness{Status: "ok"})
	}
}

// Readyz runs every check under one shared deadline and lists the ones
// that failed.
func Readyz(timeout time.Duration, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		var failed []string
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				slog.Warn("readiness check failed", "check", c.Name, "err", err)
				failed = append(failed, c.Name)
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, readiness{Status: "not_ready", Failed: failed})
			return
		}
		writeJSON(w, http.StatusOK, readiness{Status: "ready"})
	}
}
