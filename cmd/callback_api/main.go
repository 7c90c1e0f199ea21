package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	callbackhttp "github.com/agrocall/delivery/internal/callback_service/transport/http"
	"github.com/agrocall/delivery/internal/platform/config"
	"github.com/agrocall/delivery/internal/platform/logger"
	"github.com/agrocall/delivery/internal/platform/messagebroker"
)

func main() {
	cfg, err := config.Load("callback_api")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Callback API starting...", "log_level", cfg.LogLevel, "port", cfg.CallbackAPIPort)

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "callback-api", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Connected to NATS")

	dlrHandler := callbackhttp.NewDLRHandler(natsClient, appLogger, validator.New())
	router := callbackhttp.NewRouter(dlrHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.CallbackAPIPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Callback API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quitChan
	appLogger.Info("Shutdown signal received", "signal", receivedSignal.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	}
	appLogger.Info("Callback API shut down")
}
