package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"smsgw/internal/config"
	"smsgw/internal/gateway"
	"smsgw/internal/httpserver"
	"smsgw/internal/logging"
	"smsgw/internal/observability"
	"smsgw/internal/service"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		slog.Error("api config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	gwCfg, err := cfg.Gateway()
	if err != nil {
		log.Error("api gateway config invalid", "err", err)
		os.Exit(1)
	}
	doer, breaker := cfg.Transport()
	gw, err := gateway.New(gwCfg, doer, gateway.WithLogger(log))
	if err != nil {
		log.Error("api gateway init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	s := httpserver.New(log)
	api := &httpserver.API{Svc: &service.SMSService{Gateway: gw, MaxBatch: cfg.MaxBatchSize}}
	api.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, httpserver.Check{
		Name: "carrier_breaker",
		Probe: func(context.Context) error {
			if breaker.State() == gobreaker.StateOpen {
				return errors.New("carrier circuit open")
			}
			return nil
		},
	})).Methods(http.MethodGet)

	srv := httpserver.HTTPServer(":"+cfg.Port, s.Mux)
	metricsSrv := httpserver.HTTPServer(":"+cfg.MetricsPort, promhttp.Handler())

	errCh := make(chan error, 2)
	go func() {
		log.Info("api listening", "port", cfg.Port, "protocol", gw.Protocol())
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		log.Info("api metrics listening", "port", cfg.MetricsPort)
		errCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("api shutdown", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
