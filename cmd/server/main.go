// Package main provides the API server entry point for the weather collector.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weather-collector/internal/adapter"
	"github.com/weather-collector/internal/api"
	"github.com/weather-collector/internal/config"
	"github.com/weather-collector/internal/job"
	"github.com/weather-collector/internal/logging"
	"github.com/weather-collector/internal/ratelimit"
	"github.com/weather-collector/internal/scheduler"
	"github.com/weather-collector/internal/service"
	"github.com/weather-collector/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// The limiter gating provider calls is either in-process or, when several
	// processes share one API key, the Redis-backed shared budget.
	var limiter ratelimit.Limiter
	if cfg.RateLimit.SharedBudget {
		budget, err := ratelimit.NewCallBudget(&ratelimit.CallBudgetConfig{
			Redis:  redis.Client(),
			Limit:  cfg.RateLimit.RequestsPerWindow,
			Window: cfg.RateLimit.Window,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create shared call budget")
		}
		limiter = ratelimit.NewBudgetLimiter(budget)
		logger.Info("Using Redis-backed shared call budget")
	} else {
		limiter = ratelimit.NewWindowLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
	}

	client, err := adapter.NewOpenWeatherClient(&adapter.OpenWeatherClientConfig{
		APIKey:     cfg.Provider.APIKey,
		BaseURL:    cfg.Provider.BaseURL,
		Timeout:    cfg.Provider.Timeout,
		Limiter:    limiter,
		MaxRetries: cfg.Provider.MaxRetries,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create provider client")
	}

	observations := storage.NewObservationRepository(clickhouse)
	locations := storage.NewLocationRepository(postgres)
	cache := storage.NewWeatherCache(redis, cfg.Cache.TTL)

	logger.Info("Initializing services...")

	collector := service.NewCollectorService(client, observations, cache, locations,
		cfg.Fetch.MonitorCount, cfg.Fetch.MaxConcurrent)
	tracker := service.NewBackfillTracker(observations, locations,
		cfg.Fetch.MonitorCount, cfg.Backfill.HorizonMonths)
	queries := service.NewQueryService(observations, locations, cache, client, observations, 0)

	orchestrator, err := scheduler.NewOrchestrator(scheduler.Config{
		Collector: collector,
		Tracker:   tracker,
		NewBackfill: func() scheduler.BackfillJob {
			return job.NewBackfillRunner(client, observations, tracker, nil, cfg.Fetch.MaxConcurrent)
		},
		Stats:              observations,
		Interval:           cfg.Fetch.Interval,
		CleanupCron:        cfg.Scheduler.CleanupCron,
		StatsCron:          cfg.Scheduler.StatsCron,
		BackfillStartDelay: cfg.Backfill.StartDelay,
		BackfillRetryDelay: cfg.Backfill.RetryDelay,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}

	if err := orchestrator.Start(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	defer orchestrator.Stop()

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AuthToken:       cfg.Server.AuthToken,
		ClientRPS:       cfg.Server.ClientRPS,
	}

	usage := func() interface{} { return client.UsageStats() }
	server := api.NewServer(serverConfig, queries, orchestrator, tracker,
		locations, cache, usage, observations)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("Server stopped")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
