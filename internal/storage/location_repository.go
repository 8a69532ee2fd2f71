package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/weather-collector/internal/errors"
	"github.com/weather-collector/internal/models"
)

// LocationRepository handles the location catalog in Postgres. The catalog is
// reference data: the pipeline reads it, operators change it through
// migrations and seeds.
type LocationRepository struct {
	db *PostgresDB
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *PostgresDB) *LocationRepository {
	return &LocationRepository{db: db}
}

const locationColumns = `provider_id, name, country_code, region, monitored, priority`

// ListAll returns the whole catalog ordered by region and name.
func (r *LocationRepository) ListAll(ctx context.Context) ([]models.Location, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM locations
		ORDER BY region, name
	`, locationColumns)

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to list locations", err)
	}
	defer rows.Close()

	return scanLocations(rows)
}

// ListMonitored returns the monitored subset of the catalog, highest priority
// first, capped at limit. A limit of zero means no cap.
func (r *LocationRepository) ListMonitored(ctx context.Context, limit int) ([]models.Location, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM locations
		WHERE monitored
		ORDER BY priority DESC, name
	`, locationColumns)

	var args []interface{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to list monitored locations", err)
	}
	defer rows.Close()

	return scanLocations(rows)
}

// GetByName retrieves one catalog entry by its display name.
func (r *LocationRepository) GetByName(ctx context.Context, name string) (*models.Location, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM locations
		WHERE lower(name) = lower($1)
	`, locationColumns)

	var loc models.Location
	err := r.db.Pool().QueryRow(ctx, query, name).Scan(
		&loc.ProviderID,
		&loc.Name,
		&loc.CountryCode,
		&loc.Region,
		&loc.Monitored,
		&loc.Priority,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("location", name)
		}
		return nil, apperrors.NewDatabaseError("failed to get location", err)
	}

	return &loc, nil
}

// Upsert inserts or updates a catalog entry keyed on provider_id.
func (r *LocationRepository) Upsert(ctx context.Context, loc *models.Location) error {
	query := `
		INSERT INTO locations (provider_id, name, country_code, region, monitored, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id) DO UPDATE SET
			name = EXCLUDED.name,
			country_code = EXCLUDED.country_code,
			region = EXCLUDED.region,
			monitored = EXCLUDED.monitored,
			priority = EXCLUDED.priority,
			updated_at = now()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		loc.ProviderID,
		loc.Name,
		loc.CountryCode,
		loc.Region,
		loc.Monitored,
		loc.Priority,
	)
	if err != nil {
		return apperrors.NewDatabaseError("failed to upsert location", err)
	}

	return nil
}

// GroupByRegion buckets the whole catalog by region for the cities listing.
func (r *LocationRepository) GroupByRegion(ctx context.Context) (map[string][]models.Location, error) {
	locations, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]models.Location)
	for _, loc := range locations {
		grouped[loc.Region] = append(grouped[loc.Region], loc)
	}

	return grouped, nil
}

func scanLocations(rows pgx.Rows) ([]models.Location, error) {
	var locations []models.Location
	for rows.Next() {
		var loc models.Location
		err := rows.Scan(
			&loc.ProviderID,
			&loc.Name,
			&loc.CountryCode,
			&loc.Region,
			&loc.Monitored,
			&loc.Priority,
		)
		if err != nil {
			return nil, apperrors.NewDatabaseError("failed to scan location", err)
		}
		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("failed to iterate locations", err)
	}

	return locations, nil
}
