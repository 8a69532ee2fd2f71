// Package main provides the headless collection worker entry point. It runs
// the same scheduler as the API server but serves no HTTP traffic, for
// deployments that split collection from the query surface. Point both
// processes at the shared Redis call budget so the provider quota holds.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/weather-collector/internal/adapter"
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

	collector := service.NewCollectorService(client, observations, cache, locations,
		cfg.Fetch.MonitorCount, cfg.Fetch.MaxConcurrent)
	tracker := service.NewBackfillTracker(observations, locations,
		cfg.Fetch.MonitorCount, cfg.Backfill.HorizonMonths)

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

	logger.WithFields(map[string]interface{}{
		"interval":  cfg.Fetch.Interval.String(),
		"locations": cfg.Fetch.MonitorCount,
	}).Info("Collection worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	orchestrator.Stop()
	logger.Info("Worker exited")
}
