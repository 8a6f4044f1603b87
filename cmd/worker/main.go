package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/bootstrap"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/config"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/fetch"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/ingest"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/metrics"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/queue"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/util"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"

	"github.com/labstack/echo/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.InitLogger(config.Default())
		logger.Fatal("Failed to load config", "err", err)
	}
	bootstrap.InitLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open snapshot store", "err", err)
	}
	defer handle.Store.Close()

	cacheStore, err := bootstrap.OpenCache(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open cache", "err", err)
	}

	if err := os.MkdirAll(cfg.Source.WorkDir, 0o755); err != nil {
		logger.Fatal("Failed to create work dir", "dir", cfg.Source.WorkDir, "err", err)
	}

	fetcher := fetch.New(
		fetch.WithProbeTimeout(cfg.Source.ProbeTimeout),
		fetch.WithDownloadTimeout(cfg.Source.DownloadTimeout),
	)
	params := ingest.Params{
		Fetcher:      fetcher,
		Cache:        cacheStore,
		Store:        handle.Store,
		BaseURL:      cfg.Source.BaseURL,
		LookbackDays: cfg.Source.LookbackDays,
		WorkDir:      cfg.Source.WorkDir,
	}

	switch cfg.Worker.Mode {
	case config.ModeQueue:
		runQueue(ctx, cfg, params, handle.Locker)
	default:
		code := runOnce(ctx, params, handle.Locker)
		handle.Store.Close()
		stop()
		os.Exit(code)
	}
}

// runOnce performs a single ingestion and returns the process exit code.
func runOnce(ctx context.Context, params ingest.Params, locker ingest.Locker) int {
	pipeline := ingest.New(params, ingest.WithLocker(locker))
	report, err := pipeline.Run(ctx, ingest.RunOptions{
		Force:   util.GetEnvBool("INGEST_FORCE", false),
		Trigger: "cli",
	})
	if err != nil {
		logger.Error("Ingestion failed", "stage", report.FailedStage, "err", err)
		return ingest.ExitCode(err)
	}
	logger.Info("Ingestion finished", "run_id", report.RunID, "outcome", report.Outcome)
	return 0
}

func runQueue(ctx context.Context, cfg *config.Config, params ingest.Params, locker ingest.Locker) {
	// Init rabbitmq
	conn, err := bootstrap.ConnectQueue(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// One ingestion at a time per worker.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	m := metrics.New()
	pipeline := ingest.New(params,
		ingest.WithLocker(locker),
		ingest.WithRecorder(m),
		ingest.WithNotifier(queue.NewEventNotifier(ch)),
	)

	metricsServer := echo.New()
	metricsServer.HideBanner = true
	metricsServer.GET("/metrics", echo.WrapHandler(m.Handler()))
	metricsServer.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	go func() {
		logger.Info("Serving metrics", "addr", cfg.Worker.MetricsAddr)
		if err := metricsServer.Start(cfg.Worker.MetricsAddr); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server stopped", "err", err)
		}
	}()

	msgs, err := consumerCh.Consume(
		queue.IngestQueue,
		queue.IngestQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.IngestQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.IngestQueue)
	queue.Consume(ctx, msgs, consumerCh, queue.IngestQueue, func(ctx context.Context, msg amqp.Delivery) error {
		return queue.ProcessIngestMessage(ctx, pipeline, msg.Body)
	})

	logger.Info("Shutdown signal received, exiting...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown metrics server", "err", err)
	}
}
