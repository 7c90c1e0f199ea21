package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agrocall/delivery/internal/delivery_service/app"
	"github.com/agrocall/delivery/internal/delivery_service/gateway"
	"github.com/agrocall/delivery/internal/delivery_service/repository/postgres"
	redisrepo "github.com/agrocall/delivery/internal/delivery_service/repository/redis"
	"github.com/agrocall/delivery/internal/delivery_service/resolver"
	"github.com/agrocall/delivery/internal/platform/config"
	"github.com/agrocall/delivery/internal/platform/database"
	"github.com/agrocall/delivery/internal/platform/logger"
	"github.com/agrocall/delivery/internal/platform/messagebroker"
)

const (
	natsSendJobSubject    = "delivery.jobs.send"
	natsSendJobQueueGroup = "delivery_workers"

	natsReportSubject    = "delivery.reports.raw.*"
	natsReportQueueGroup = "delivery_report_workers"

	optOutGuardTTL = 24 * time.Hour
)

func main() {
	cfg, err := config.Load("delivery_worker")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Delivery worker starting...", "log_level", cfg.LogLevel)

	dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "delivery-worker", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Connected to NATS")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	registry, err := gateway.NewRegistry(cfg.Gateways)
	if err != nil {
		appLogger.Error("Invalid gateway configuration", "error", err)
		os.Exit(1)
	}

	messageRepo := postgres.NewPgMessageRepository(dbPool)
	outcomeRepo := postgres.NewPgOutcomeRepository(dbPool)
	customerRepo := postgres.NewPgCustomerRepository(dbPool)
	stoppers := redisrepo.NewOptOutMarker(customerRepo, rdb, optOutGuardTTL, appLogger)

	httpClient := &http.Client{Timeout: time.Duration(cfg.GatewayTimeoutSeconds) * time.Second}
	clientFactory := gateway.NewClientFactory(httpClient, appLogger)

	recorder := app.NewRecorder(outcomeRepo, appLogger)
	batcher := app.NewBatcher(
		registry, clientFactory, recorder, messageRepo, stoppers,
		cfg.MaxBatchSize, cfg.EnqueueThreshold, cfg.SegmentCharLimit,
		appLogger,
	)
	recipientResolver := resolver.New(customerRepo, registry, cfg.ReservedPrefixes, appLogger)

	taskService := app.NewTaskService(recipientResolver, batcher, messageRepo, natsClient, natsClient, appLogger)
	reportProcessor := app.NewReportProcessor(recorder, stoppers, natsClient, appLogger)

	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	if err := taskService.StartConsumingJobs(appCtx, natsSendJobSubject, natsSendJobQueueGroup); err != nil {
		appLogger.Error("Failed to start send-job consumer", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Send-job consumer started", "subject", natsSendJobSubject, "queue_group", natsSendJobQueueGroup)

	if err := reportProcessor.StartConsuming(appCtx, natsReportSubject, natsReportQueueGroup); err != nil {
		appLogger.Error("Failed to start delivery-report consumer", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Delivery-report consumer started", "subject", natsReportSubject, "queue_group", natsReportQueueGroup)

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quitChan
	appLogger.Info("Shutdown signal received", "signal", receivedSignal.String())

	cancelAppCtx()
	taskService.StopConsumingJobs()
	reportProcessor.StopConsuming()
	appLogger.Info("Delivery worker shut down")
}
