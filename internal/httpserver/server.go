package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"smsgw/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with request logging and API metrics installed.
func New(log *slog.Logger) *Server {
	r := mux.NewRouter()
	r.Use(Logging(log), Metrics(observability.APIRequests))
	return &Server{Mux: r}
}

// HTTPServer wraps handler with the timeouts every binary uses.
func HTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
