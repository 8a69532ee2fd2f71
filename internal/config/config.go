// Package config provides configuration management for the weather collector.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Provider  ProviderConfig
	RateLimit RateLimitConfig
	Fetch     FetchConfig
	Scheduler SchedulerConfig
	Backfill  BackfillConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host      string
	Port      string
	AuthToken string // optional bearer token; empty disables auth
	ClientRPS int    `validate:"gt=0"`
}

// ProviderConfig holds the weather provider API configuration
type ProviderConfig struct {
	APIKey     string
	BaseURL    string        `validate:"required,url"`
	Timeout    time.Duration `validate:"gt=0"`
	MaxRetries int           `validate:"gte=1,lte=10"`
}

// RateLimitConfig bounds outbound calls to the provider
type RateLimitConfig struct {
	RequestsPerWindow int           `validate:"gt=0"`
	Window            time.Duration `validate:"gt=0"`
	// SharedBudget switches the limiter to the Redis-backed call budget so
	// that several processes can share one provider key.
	SharedBudget bool
}

// FetchConfig controls the collection pipeline
type FetchConfig struct {
	Interval      time.Duration `validate:"gte=1m"`
	MaxConcurrent int           `validate:"gte=1,lte=64"`
	MonitorCount  int           `validate:"gte=1"`
}

// SchedulerConfig controls the housekeeping jobs
type SchedulerConfig struct {
	CleanupCron string
	StatsCron   string
}

// BackfillConfig controls historical data collection
type BackfillConfig struct {
	HorizonMonths int           `validate:"gte=1,lte=60"`
	StartDelay    time.Duration `validate:"gte=0"`
	RetryDelay    time.Duration `validate:"gt=0"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int `validate:"gt=0"`
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int `validate:"gt=0"`
}

// CacheConfig holds the latest-observation cache configuration
type CacheConfig struct {
	TTL time.Duration `validate:"gt=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn warning error fatal"`
	Format string `validate:"oneof=json text"`
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host:      getEnv("SERVER_HOST", "0.0.0.0"),
			Port:      getEnv("SERVER_PORT", "8080"),
			AuthToken: getEnv("API_AUTH_TOKEN", ""),
			ClientRPS: getEnvAsInt("API_CLIENT_RPS", 20),
		},
		Provider: ProviderConfig{
			APIKey:     getEnv("OPENWEATHER_API_KEY", ""),
			BaseURL:    getEnv("OPENWEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5"),
			Timeout:    getEnvAsDuration("OPENWEATHER_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvAsInt("OPENWEATHER_MAX_RETRIES", 3),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvAsInt("RATE_LIMIT_REQUESTS", 60),
			Window:            getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			SharedBudget:      getEnvAsBool("RATE_LIMIT_SHARED_BUDGET", false),
		},
		Fetch: FetchConfig{
			Interval:      getEnvAsDuration("FETCH_INTERVAL", time.Hour),
			MaxConcurrent: getEnvAsInt("FETCH_MAX_CONCURRENT", 5),
			MonitorCount:  getEnvAsInt("LOCATION_MONITOR_COUNT", 20),
		},
		Scheduler: SchedulerConfig{
			CleanupCron: getEnv("SCHEDULER_CLEANUP_CRON", "0 2 * * *"),
			StatsCron:   getEnv("SCHEDULER_STATS_CRON", "0 3 * * 0"),
		},
		Backfill: BackfillConfig{
			HorizonMonths: getEnvAsInt("BACKFILL_HORIZON_MONTHS", 3),
			StartDelay:    getEnvAsDuration("BACKFILL_START_DELAY", 30*time.Second),
			RetryDelay:    getEnvAsDuration("BACKFILL_RETRY_DELAY", 10*time.Minute),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "weather"),
				User:           getEnv("POSTGRES_USER", "weather"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "weather"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks struct-tag constraints plus the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The fetch interval must fit the provider quota: one tick issues one
	// request per monitored location.
	windowsPerInterval := float64(c.Fetch.Interval) / float64(c.RateLimit.Window)
	if float64(c.Fetch.MonitorCount) > float64(c.RateLimit.RequestsPerWindow)*windowsPerInterval {
		return fmt.Errorf("invalid configuration: %d locations cannot be fetched every %s under %d requests per %s",
			c.Fetch.MonitorCount, c.Fetch.Interval, c.RateLimit.RequestsPerWindow, c.RateLimit.Window)
	}

	if c.Fetch.MaxConcurrent > c.RateLimit.RequestsPerWindow {
		return fmt.Errorf("invalid configuration: FETCH_MAX_CONCURRENT (%d) exceeds the rate limit window budget (%d)",
			c.Fetch.MaxConcurrent, c.RateLimit.RequestsPerWindow)
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
