package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"thunes/internal/amqp"
	"thunes/internal/backend"
	"thunes/internal/backend/memory"
	"thunes/internal/cli"
	apphttp "thunes/internal/http"
	"thunes/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	var client backend.Client

	switch cfg.DataBackend {
	case "sqlite":
		repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

		var amqpClient *amqp.Client
		if cfg.AMQPURL != "" {
			var err error
			amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
			if err != nil {
				logger.Warn("AMQP unavailable, mutations will not be published", "error", err)
			}
		}

		service := services.NewLedgerService(repo, amqpClient)
		defer func() {
			if err := service.Close(); err != nil {
				logger.Error("Service close error", "error", err)
			}
		}()
		client = service
		logger.Info("Initialized sqlite backend", "path", cfg.SQLiteDBPath, "amqp", amqpClient != nil)
	default:
		client = memory.New()
		logger.Info("Initialized memory backend")
	}

	srv := apphttp.NewServer(":"+cfg.Port, client, cfg.RequestTimeout)

	if cfg.DefaultAccount != "" {
		preloadCtx, preloadCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		srv.Preload(preloadCtx, cfg.DefaultAccount)
		preloadCancel()
	}

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting thunes server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
