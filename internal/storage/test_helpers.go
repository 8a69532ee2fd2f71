package storage

import (
	"context"
	"testing"
	"time"

	"github.com/weather-collector/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testClickHouseConfig points at the local development ClickHouse instance.
func testClickHouseConfig() *config.ClickHouseConfig {
	return &config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "weather",
		User:     "default",
		Password: "",
	}
}
