package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/backofficehq/meli-sync-worker/internal/cache"
	"github.com/backofficehq/meli-sync-worker/internal/config"
	"github.com/backofficehq/meli-sync-worker/internal/database"
	"github.com/backofficehq/meli-sync-worker/internal/httpserver"
	"github.com/backofficehq/meli-sync-worker/internal/logging"
	"github.com/backofficehq/meli-sync-worker/internal/meli"
	"github.com/backofficehq/meli-sync-worker/internal/metrics"
	"github.com/backofficehq/meli-sync-worker/internal/repository"
	"github.com/backofficehq/meli-sync-worker/internal/service"
	"github.com/backofficehq/meli-sync-worker/internal/watcher"
	"github.com/backofficehq/meli-sync-worker/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting meli-sync-worker")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := database.SQLDB(db)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	logger.Info("database connected")

	if err := database.RunMigrations(sqlDB, migrations.Files); err != nil {
		return err
	}
	logger.Info("database migrated")

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	// Repositories
	accountRepo := repository.NewAccountRepository(db)
	cacheRepo := repository.NewCacheRepository(db)
	syncStatusRepo := repository.NewSyncStatusRepository(db)
	claimRepo := repository.NewClaimRepository(db)
	queueRepo := repository.NewQueueRepository(sqlDB, cfg.MaxRetries)

	// MercadoLibre client
	meliClient := meli.New(meli.Config{
		BaseURL:      cfg.MeliBaseURL,
		ClientID:     cfg.MeliClientID,
		ClientSecret: cfg.MeliClientSecret,
	}, logger, metricRegistry, redisClient)

	// Services
	cacheService := service.NewCacheService(accountRepo, cacheRepo, meliClient, logger, metricRegistry)
	syncService := service.NewSyncService(accountRepo, syncStatusRepo, queueRepo, cacheService, logger, metricRegistry)
	drainService := service.NewDrainService(accountRepo, queueRepo, claimRepo, meliClient, cfg.MaxRetries, logger, metricRegistry)

	w := watcher.New(cfg, redisClient, syncService, drainService, logger)
	server := httpserver.New(cfg.HTTPAddr, cfg.APIAuthToken, logger, cacheService, syncService, drainService, w)

	errChan := make(chan error, 2)
	go func() {
		errChan <- w.Start(ctx)
	}()
	go func() {
		errChan <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown failed", "error", err)
		}

		select {
		case <-shutdownCtx.Done():
			logger.Warn("shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker error during shutdown", "error", err)
			}
		}

		logger.Info("stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
