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
	"smsgw/internal/httpserver"
	"smsgw/internal/logging"
	"smsgw/internal/observability"
	sqsqueue "smsgw/internal/queue/sqs"
	"smsgw/internal/store/pg"
	"smsgw/internal/worker"
)

func main() {
	cfg, err := config.LoadEventProcessor()
	if err != nil {
		slog.Error("event-processor config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.Init("event-processor", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		log.Error("event-processor db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		log.Error("event-processor sqs client init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	consumer := &sqsqueue.Consumer{
		SQS:               sqsClient,
		QueueURL:          cfg.InboundQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}
	proc := &worker.Processor{Store: pg.New(db), Log: log}

	// health + metrics servers
	health := httpserver.New(log)
	health.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	health.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second,
		httpserver.Check{Name: "postgres", Probe: db.Ping},
		httpserver.Check{Name: "sqs", Probe: awsutil.QueueProbe(sqsClient, cfg.InboundQueueURL)},
	)).Methods(http.MethodGet)

	healthSrv := httpserver.HTTPServer(":"+cfg.Port, health.Mux)
	metricsSrv := httpserver.HTTPServer(":"+cfg.MetricsPort, promhttp.Handler())

	srvErrCh := make(chan error, 2)
	go func() {
		log.Info("event-processor health listening", "port", cfg.Port)
		srvErrCh <- healthSrv.ListenAndServe()
	}()
	go func() {
		log.Info("event-processor metrics listening", "port", cfg.MetricsPort)
		srvErrCh <- metricsSrv.ListenAndServe()
	}()

	pollErrCh := make(chan error, 1)
	go func() {
		log.Info("event-processor starting poll", "queue_url", cfg.InboundQueueURL, "workers", cfg.ProcessorConcurrency)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.ProcessorConcurrency, proc.Process)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event-processor poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-srvErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("event-processor server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("event-processor shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		log.Info("event-processor shutdown timeout waiting for poll loop")
	}
}
