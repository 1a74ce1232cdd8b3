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

	"smsgw/internal/awsutil"
	"smsgw/internal/config"
	"smsgw/internal/gateway"
	"smsgw/internal/httpserver"
	"smsgw/internal/logging"
	"smsgw/internal/observability"
	sqsqueue "smsgw/internal/queue/sqs"
)

func main() {
	cfg, err := config.LoadWebhook()
	if err != nil {
		slog.Error("webhook config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.Init("webhook", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gwCfg, err := cfg.Gateway()
	if err != nil {
		log.Error("webhook gateway config invalid", "err", err)
		os.Exit(1)
	}
	doer, _ := cfg.Transport()
	gw, err := gateway.New(gwCfg, doer, gateway.WithLogger(log))
	if err != nil {
		log.Error("webhook gateway init failed", "err", err)
		os.Exit(1)
	}

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		log.Error("webhook sqs client init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	if cfg.WebhookSecret == "" {
		log.Warn("webhook signature verification disabled")
	}
	s := httpserver.New(log)
	wh := &httpserver.Webhook{
		Parser:          gw,
		Queue:           &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.InboundQueueURL},
		Secret:          cfg.WebhookSecret,
		SignatureHeader: cfg.SignatureHeader,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	}
	wh.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second,
		httpserver.Check{Name: "sqs", Probe: awsutil.QueueProbe(sqsClient, cfg.InboundQueueURL)},
	)).Methods(http.MethodGet)

	srv := httpserver.HTTPServer(":"+cfg.Port, s.Mux)
	metricsSrv := httpserver.HTTPServer(":"+cfg.MetricsPort, promhttp.Handler())

	errCh := make(chan error, 2)
	go func() {
		log.Info("webhook listening", "port", cfg.Port, "protocol", gw.Protocol())
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		log.Info("webhook metrics listening", "port", cfg.MetricsPort)
		errCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("webhook server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("webhook shutdown", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
