// Package main provides a diagnostic CLI that exercises the provider client
// directly: it looks a city up in the catalog, fetches its current conditions
// and optionally one historical day, and prints what came back. Handy for
// verifying an API key, quota, or a new location before monitoring it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/weather-collector/internal/adapter"
	"github.com/weather-collector/internal/config"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/ratelimit"
	"github.com/weather-collector/internal/storage"
)

func main() {
	var (
		city = flag.String("city", "London", "City name to check (must exist in the catalog)")
		day  = flag.String("day", "", "Optional UTC day (YYYY-MM-DD) to fetch hourly history for")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	client, err := adapter.NewOpenWeatherClient(&adapter.OpenWeatherClientConfig{
		APIKey:     cfg.Provider.APIKey,
		BaseURL:    cfg.Provider.BaseURL,
		Timeout:    cfg.Provider.Timeout,
		Limiter:    ratelimit.NewWindowLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window),
		MaxRetries: cfg.Provider.MaxRetries,
	})
	if err != nil {
		log.Fatalf("Failed to create provider client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	locations := storage.NewLocationRepository(postgres)
	loc, err := locations.GetByName(ctx, *city)
	if err != nil {
		log.Fatalf("Location lookup failed: %v", err)
	}

	fmt.Printf("Location: %s, %s (provider id %d, region %s)\n",
		loc.Name, loc.CountryCode, loc.ProviderID, loc.Region)

	obs, err := client.FetchCurrent(ctx, *loc)
	if err != nil {
		log.Fatalf("Current-conditions fetch failed: %v", err)
	}

	fmt.Printf("Observed at: %s\n", obs.ObservedAt.Format(time.RFC3339))
	fmt.Printf("Condition:   %s\n", conditionName(obs))
	if obs.Measurements.Temperature != nil {
		fmt.Printf("Temperature: %.1f C\n", *obs.Measurements.Temperature)
	}
	if obs.Measurements.Humidity != nil {
		fmt.Printf("Humidity:    %.0f%%\n", *obs.Measurements.Humidity)
	}
	if obs.Wind.Speed != nil {
		fmt.Printf("Wind:        %.1f m/s\n", *obs.Wind.Speed)
	}

	if *day != "" {
		parsed, err := time.Parse("2006-01-02", *day)
		if err != nil {
			log.Fatalf("Invalid -day value %q: %v", *day, err)
		}

		history, err := client.FetchDay(ctx, *loc, parsed.UTC())
		if err != nil {
			log.Fatalf("History fetch failed: %v", err)
		}

		fmt.Printf("\nHistory for %s: %d hourly readings\n", *day, len(history))
		for _, h := range history {
			temp := "n/a"
			if h.Measurements.Temperature != nil {
				temp = fmt.Sprintf("%.1f C", *h.Measurements.Temperature)
			}
			fmt.Printf("  %s  %-12s %s\n", h.ObservedAt.Format("15:04"), conditionName(h), temp)
		}
	}

	usage := client.UsageStats()
	fmt.Printf("\nRequests issued: %d, failed: %d\n", usage.RequestsIssued, usage.RequestsFailed)
}

func conditionName(obs *models.WeatherObservation) string {
	if len(obs.Conditions) == 0 {
		return "unknown"
	}
	return obs.Conditions[0].Main
}
