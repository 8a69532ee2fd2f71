// Package main applies schema migrations for the collector's two stores:
// the Postgres location catalog and the ClickHouse observation table.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/weather-collector/internal/config"
	"github.com/weather-collector/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version (ClickHouse supports up only)")
		dbType = flag.String("db", "postgres", "Target store: postgres (location catalog), clickhouse (observations)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *dbType {
	case "postgres":
		if err := migrateCatalog(cfg, *action); err != nil {
			log.Fatalf("Catalog migration failed: %v", err)
		}
	case "clickhouse":
		if err := migrateObservationStore(cfg, *action); err != nil {
			log.Fatalf("Observation store migration failed: %v", err)
		}
	default:
		log.Fatalf("Unknown store: %s", *dbType)
	}
}

// migrateCatalog drives the versioned up/down pairs for the locations table
// and its seed data.
func migrateCatalog(cfg *config.Config, action string) error {
	databaseURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Postgres.User,
		cfg.Database.Postgres.Password,
		cfg.Database.Postgres.Host,
		cfg.Database.Postgres.Port,
		cfg.Database.Postgres.Database,
	)

	migrationsPath := "migrations/postgres"

	switch action {
	case "up":
		log.Println("Applying location catalog migrations...")
		if err := storage.RunMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		log.Println("Location catalog is up to date")

	case "down":
		log.Println("Rolling back the last catalog migration...")
		if err := storage.RollbackMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		log.Println("Catalog migration rolled back")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, migrationsPath)
		if err != nil {
			return err
		}
		log.Printf("Catalog schema version: %d (dirty: %v)", version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}

// migrateObservationStore applies the ClickHouse DDL. The observation table
// carries no down migrations: dropping time-series data is an operator
// decision, not a schema action.
func migrateObservationStore(cfg *config.Config, action string) error {
	if action != "up" {
		return fmt.Errorf("the observation store only supports the 'up' action")
	}

	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing ClickHouse connection: %v", err)
		}
	}()

	migrationsPath := "migrations/clickhouse"
	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", migrationsPath)
	}

	log.Println("Applying observation store DDL...")
	if err := storage.RunClickHouseMigrations(db, migrationsPath); err != nil {
		return err
	}

	log.Println("Observation store is up to date")
	return nil
}
