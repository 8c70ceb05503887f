// Package main provides the worker entry point: it consumes import, delete,
// and webhook delivery tasks from the durable queue.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/catalog-importer/internal/config"
	"github.com/catalog-importer/internal/delivery"
	"github.com/catalog-importer/internal/importer"
	"github.com/catalog-importer/internal/logging"
	"github.com/catalog-importer/internal/queue"
	"github.com/catalog-importer/internal/storage"
	"github.com/catalog-importer/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisClient(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	productRepo := storage.NewProductRepository(postgres)
	jobRepo := storage.NewImportJobRepository(postgres)
	webhookRepo := storage.NewWebhookRepository(postgres)
	logRepo := storage.NewWebhookLogRepository(postgres)

	tasks := queue.New(redis.Client(), cfg.Database.Redis.QueueNamespace, logger)

	deliveryService := delivery.NewService(&cfg.Webhook, webhookRepo, logRepo, tasks, logger)
	importService := importer.NewService(productRepo, jobRepo, deliveryService, cfg.Import.BatchSize, logger)

	pool := worker.NewPool(tasks, importService, deliveryService, cfg.Worker.Concurrency, cfg.Worker.PollInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start workers")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")
	cancel()
	pool.Stop()
	logger.Info("Worker stopped")
}
