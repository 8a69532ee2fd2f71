// Package main provides a one-shot backfill run: it fills the historical
// horizon for every monitored location and exits. Useful when seeding a new
// deployment without waiting for the scheduler's startup backfill.
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

	var limiter ratelimit.Limiter
	if cfg.RateLimit.SharedBudget {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()

		budget, err := ratelimit.NewCallBudget(&ratelimit.CallBudgetConfig{
			Redis:  redis.Client(),
			Limit:  cfg.RateLimit.RequestsPerWindow,
			Window: cfg.RateLimit.Window,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create shared call budget")
		}
		limiter = ratelimit.NewBudgetLimiter(budget)
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
	tracker := service.NewBackfillTracker(observations, locations,
		cfg.Fetch.MonitorCount, cfg.Backfill.HorizonMonths)

	runner := job.NewBackfillRunner(client, observations, tracker, nil, cfg.Fetch.MaxConcurrent)

	// Ctrl-C cancels the run; committed days stay in the store and the next
	// run resumes where this one stopped.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("Interrupt received, cancelling backfill")
		cancel()
	}()

	logger.WithField("horizonMonths", cfg.Backfill.HorizonMonths).Info("Starting backfill run")

	if err := runner.Run(ctx); err != nil {
		status := runner.Status()
		logger.WithError(err).WithFields(map[string]interface{}{
			"daysDone": status.DaysDone,
			"written":  status.Written,
		}).Fatal("Backfill run failed")
	}

	status := runner.Status()
	logger.WithFields(map[string]interface{}{
		"daysDone": status.DaysDone,
		"written":  status.Written,
	}).Info("Backfill run completed")
}
