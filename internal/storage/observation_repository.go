package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/weather-collector/internal/errors"
	"github.com/weather-collector/internal/logging"
	"github.com/weather-collector/internal/models"
)

// ObservationRepository handles weather observation persistence in ClickHouse.
//
// The weather_observations table is a ReplacingMergeTree keyed on
// (country_code, location_id, observed_at) with ingested_at as the version
// column, so re-ingesting an identity is an upsert: the engine keeps the
// latest ingested row and reads use FINAL to see that row before merges run.
type ObservationRepository struct {
	db *ClickHouseDB
}

// NewObservationRepository creates a new observation repository
func NewObservationRepository(db *ClickHouseDB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// RecordError describes one observation rejected from a batch.
type RecordError struct {
	IdentityKey string `json:"identityKey"`
	Reason      string `json:"reason"`
}

// UpsertResult reports the outcome of an UpsertBatch call.
type UpsertResult struct {
	Written  int           `json:"written"`
	Rejected []RecordError `json:"rejected,omitempty"`
}

// ObservationFilter narrows QueryRange results. Zero values mean "no filter"
// for that dimension.
type ObservationFilter struct {
	Name        string
	CountryCode string
	LocationID  uint32
	From        time.Time
	To          time.Time
	Limit       int
	Descending  bool
}

const observationColumns = `
	country_code, location_id, observed_at, name, latitude, longitude,
	condition_main, conditions,
	temperature, feels_like, temp_min, temp_max, pressure, humidity, visibility,
	wind_speed, wind_deg, wind_gust, clouds_all,
	sunrise, sunset, provider_status, ingested_at
`

// UpsertBatch writes a batch of observations. Records failing validation are
// rejected individually and reported in the result; the rest of the batch
// still commits. Duplicate identities within one batch collapse to the last
// occurrence so the batch itself cannot race the version column.
func (r *ObservationRepository) UpsertBatch(ctx context.Context, observations []*models.WeatherObservation) (*UpsertResult, error) {
	result := &UpsertResult{}
	if len(observations) == 0 {
		return result, nil
	}

	logger := logging.FromContext(ctx)
	ingestedAt := time.Now().UTC()

	deduped, rejected := prepareBatchRecords(observations)
	result.Rejected = rejected

	if len(result.Rejected) > 0 {
		logger.WithFields(map[string]interface{}{
			"rejected": len(result.Rejected),
			"batch":    len(observations),
		}).Warn("Rejected invalid observations from batch")
	}

	if len(deduped) == 0 {
		return result, nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO weather_observations (%s)`, observationColumns))
	if err != nil {
		return nil, apperrors.NewStoreWriteError("failed to prepare observation batch", err)
	}

	for _, obs := range deduped {
		obs.IngestedAt = ingestedAt

		conditionsJSON, err := json.Marshal(obs.Conditions)
		if err != nil {
			return nil, apperrors.NewStoreWriteError(
				fmt.Sprintf("failed to marshal conditions for %s", obs.IdentityKey()), err)
		}

		err = batch.Append(
			obs.CountryCode,
			obs.LocationID,
			obs.ObservedAt.UTC(),
			obs.Name,
			obs.Coord.Latitude,
			obs.Coord.Longitude,
			primaryCondition(obs.Conditions),
			string(conditionsJSON),
			obs.Measurements.Temperature,
			obs.Measurements.FeelsLike,
			obs.Measurements.TempMin,
			obs.Measurements.TempMax,
			obs.Measurements.Pressure,
			obs.Measurements.Humidity,
			obs.Measurements.Visibility,
			obs.Wind.Speed,
			obs.Wind.Deg,
			obs.Wind.Gust,
			obs.Clouds.All,
			obs.Sys.Sunrise,
			obs.Sys.Sunset,
			int32(obs.ProviderStatus),
			obs.IngestedAt,
		)
		if err != nil {
			return nil, apperrors.NewStoreWriteError(
				fmt.Sprintf("failed to append observation %s to batch", obs.IdentityKey()), err)
		}
	}

	if err := batch.Send(); err != nil {
		return nil, apperrors.NewStoreWriteError("failed to send observation batch", err)
	}

	result.Written = len(deduped)
	return result, nil
}

// QueryRange retrieves observations matching the filter, ordered by
// observed_at. FINAL collapses replaced versions so callers never see stale
// duplicates.
func (r *ObservationRepository) QueryRange(ctx context.Context, filter ObservationFilter) ([]*models.WeatherObservation, error) {
	query := fmt.Sprintf(`SELECT %s FROM weather_observations FINAL WHERE 1=1`, observationColumns)
	var args []interface{}

	if filter.Name != "" {
		query += " AND name = ?"
		args = append(args, filter.Name)
	}
	if filter.CountryCode != "" {
		query += " AND country_code = ?"
		args = append(args, filter.CountryCode)
	}
	if filter.LocationID != 0 {
		query += " AND location_id = ?"
		args = append(args, filter.LocationID)
	}
	if !filter.From.IsZero() {
		query += " AND observed_at >= ?"
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += " AND observed_at < ?"
		args = append(args, filter.To.UTC())
	}

	if filter.Descending {
		query += " ORDER BY observed_at DESC"
	} else {
		query += " ORDER BY observed_at ASC"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to query observations", err)
	}
	defer rows.Close()

	var observations []*models.WeatherObservation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("failed to iterate observations", err)
	}

	return observations, nil
}

// LatestByName returns the most recent observation for a location name.
func (r *ObservationRepository) LatestByName(ctx context.Context, name string) (*models.WeatherObservation, error) {
	observations, err := r.QueryRange(ctx, ObservationFilter{
		Name:       name,
		Limit:      1,
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, apperrors.NewNotFoundError("observations", name)
	}
	return observations[0], nil
}

// LatestForLocation returns the most recent observation for an identity pair.
func (r *ObservationRepository) LatestForLocation(ctx context.Context, countryCode string, locationID uint32) (*models.WeatherObservation, error) {
	observations, err := r.QueryRange(ctx, ObservationFilter{
		CountryCode: countryCode,
		LocationID:  locationID,
		Limit:       1,
		Descending:  true,
	})
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, apperrors.NewNotFoundError("observations", fmt.Sprintf("%s:%d", countryCode, locationID))
	}
	return observations[0], nil
}

// MinObservedAt returns the earliest stored observation instant for a
// location, or nil when the location has no data at all.
func (r *ObservationRepository) MinObservedAt(ctx context.Context, countryCode string, locationID uint32) (*time.Time, error) {
	query := `
		SELECT min(observed_at), count()
		FROM weather_observations FINAL
		WHERE country_code = ? AND location_id = ?
	`

	var earliest time.Time
	var count uint64
	row := r.db.Conn().QueryRow(ctx, query, countryCode, locationID)
	if err := row.Scan(&earliest, &count); err != nil {
		return nil, apperrors.NewDatabaseError("failed to query earliest observation", err)
	}
	if count == 0 {
		return nil, nil
	}

	earliest = earliest.UTC()
	return &earliest, nil
}

// LocationCoverage describes the stored observation range of one location.
type LocationCoverage struct {
	CountryCode string    `json:"countryCode"`
	LocationID  uint32    `json:"locationId"`
	Name        string    `json:"name"`
	Earliest    time.Time `json:"earliest"`
	Latest      time.Time `json:"latest"`
	Count       uint64    `json:"count"`
}

// EarliestPerLocation returns per-location coverage for every location with
// any stored data. Backfill completeness is derived from this, never from a
// separate progress table.
func (r *ObservationRepository) EarliestPerLocation(ctx context.Context) ([]LocationCoverage, error) {
	query := `
		SELECT country_code, location_id, any(name), min(observed_at), max(observed_at), count()
		FROM weather_observations FINAL
		GROUP BY country_code, location_id
		ORDER BY country_code, location_id
	`

	rows, err := r.db.Conn().Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to query location coverage", err)
	}
	defer rows.Close()

	var coverage []LocationCoverage
	for rows.Next() {
		var c LocationCoverage
		if err := rows.Scan(&c.CountryCode, &c.LocationID, &c.Name, &c.Earliest, &c.Latest, &c.Count); err != nil {
			return nil, apperrors.NewDatabaseError("failed to scan location coverage", err)
		}
		c.Earliest = c.Earliest.UTC()
		c.Latest = c.Latest.UTC()
		coverage = append(coverage, c)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("failed to iterate location coverage", err)
	}

	return coverage, nil
}

// SummaryByName aggregates a location's observations over the trailing number
// of days: temperature envelope, averages and the condition distribution.
func (r *ObservationRepository) SummaryByName(ctx context.Context, name string, days int) (*models.WeatherSummary, error) {
	if days <= 0 {
		days = 7
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	query := `
		SELECT
			any(location_id), any(country_code), count(),
			avg(temperature), min(temp_min), max(temp_max),
			avg(humidity), avg(pressure)
		FROM weather_observations FINAL
		WHERE name = ? AND observed_at >= ? AND observed_at < ?
	`

	summary := &models.WeatherSummary{
		Name: name,
		Days: days,
		From: from,
		To:   to,
	}

	row := r.db.Conn().QueryRow(ctx, query, name, from, to)
	err := row.Scan(
		&summary.LocationID,
		&summary.CountryCode,
		&summary.Observations,
		&summary.AvgTemp,
		&summary.MinTemp,
		&summary.MaxTemp,
		&summary.AvgHumidity,
		&summary.AvgPressure,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to query weather summary", err)
	}
	if summary.Observations == 0 {
		return nil, apperrors.NewNotFoundError("observations", fmt.Sprintf("%s in the last %d days", name, days))
	}

	distributionQuery := `
		SELECT condition_main, count() AS cnt
		FROM weather_observations FINAL
		WHERE name = ? AND observed_at >= ? AND observed_at < ? AND condition_main != ''
		GROUP BY condition_main
		ORDER BY cnt DESC
	`

	rows, err := r.db.Conn().Query(ctx, distributionQuery, name, from, to)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to query condition distribution", err)
	}
	defer rows.Close()

	for rows.Next() {
		var share models.ConditionShare
		if err := rows.Scan(&share.Condition, &share.Count); err != nil {
			return nil, apperrors.NewDatabaseError("failed to scan condition distribution", err)
		}
		share.Percent = float64(share.Count) / float64(summary.Observations) * 100
		summary.Conditions = append(summary.Conditions, share)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("failed to iterate condition distribution", err)
	}

	return summary, nil
}

// Stats summarizes the whole observation table for the admin status surface.
func (r *ObservationRepository) Stats(ctx context.Context) (*models.StoreStats, error) {
	query := `
		SELECT
			count(),
			uniqExact(country_code, location_id),
			min(observed_at), max(observed_at),
			uniqExact(toDate(observed_at))
		FROM weather_observations FINAL
	`

	stats := &models.StoreStats{}
	var earliest, latest time.Time

	row := r.db.Conn().QueryRow(ctx, query)
	err := row.Scan(&stats.TotalObservations, &stats.Locations, &earliest, &latest, &stats.UniqueDays)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to query store stats", err)
	}

	if stats.TotalObservations > 0 {
		earliest = earliest.UTC()
		latest = latest.UTC()
		stats.EarliestObserved = &earliest
		stats.LatestObserved = &latest
	}

	return stats, nil
}

// DeleteOlderThan drops observations observed before the cutoff. Retention is
// operator policy, so nothing schedules this; it exists for external tooling
// and test cleanup.
func (r *ObservationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	query := `ALTER TABLE weather_observations DELETE WHERE observed_at < ?`
	if err := r.db.Exec(ctx, query, cutoff.UTC()); err != nil {
		return apperrors.NewDatabaseError("failed to delete expired observations", err)
	}
	return nil
}

// Optimize forces a merge so replaced versions are physically collapsed.
// Correctness never depends on it because reads use FINAL.
func (r *ObservationRepository) Optimize(ctx context.Context) error {
	if err := r.db.Exec(ctx, `OPTIMIZE TABLE weather_observations FINAL`); err != nil {
		return apperrors.NewDatabaseError("failed to optimize observation table", err)
	}
	return nil
}

// rowScanner is satisfied by both driver.Row and driver.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObservation(row rowScanner) (*models.WeatherObservation, error) {
	var obs models.WeatherObservation
	var conditionMain, conditionsJSON string
	var providerStatus int32

	err := row.Scan(
		&obs.CountryCode,
		&obs.LocationID,
		&obs.ObservedAt,
		&obs.Name,
		&obs.Coord.Latitude,
		&obs.Coord.Longitude,
		&conditionMain,
		&conditionsJSON,
		&obs.Measurements.Temperature,
		&obs.Measurements.FeelsLike,
		&obs.Measurements.TempMin,
		&obs.Measurements.TempMax,
		&obs.Measurements.Pressure,
		&obs.Measurements.Humidity,
		&obs.Measurements.Visibility,
		&obs.Wind.Speed,
		&obs.Wind.Deg,
		&obs.Wind.Gust,
		&obs.Clouds.All,
		&obs.Sys.Sunrise,
		&obs.Sys.Sunset,
		&providerStatus,
		&obs.IngestedAt,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to scan observation", err)
	}
	obs.ProviderStatus = int(providerStatus)

	obs.ObservedAt = obs.ObservedAt.UTC()
	obs.IngestedAt = obs.IngestedAt.UTC()
	obs.Sys.Country = obs.CountryCode

	if conditionsJSON != "" && conditionsJSON != "[]" {
		if err := json.Unmarshal([]byte(conditionsJSON), &obs.Conditions); err != nil {
			return nil, apperrors.NewDatabaseError("failed to unmarshal conditions", err)
		}
	}

	return &obs, nil
}

// prepareBatchRecords validates a batch and collapses in-batch duplicate
// identities. Last occurrence wins, original order is otherwise kept, and
// invalid records are reported instead of failing the whole batch.
func prepareBatchRecords(observations []*models.WeatherObservation) ([]*models.WeatherObservation, []RecordError) {
	var rejected []RecordError
	index := make(map[string]int, len(observations))
	deduped := make([]*models.WeatherObservation, 0, len(observations))

	for _, obs := range observations {
		if err := obs.Validate(); err != nil {
			rejected = append(rejected, RecordError{
				IdentityKey: obs.IdentityKey(),
				Reason:      err.Error(),
			})
			continue
		}
		key := obs.IdentityKey()
		if at, seen := index[key]; seen {
			deduped[at] = obs
			continue
		}
		index[key] = len(deduped)
		deduped = append(deduped, obs)
	}

	return deduped, rejected
}

// primaryCondition returns the headline condition used for grouping; the full
// list is still stored as JSON.
func primaryCondition(conditions []models.Condition) string {
	if len(conditions) == 0 {
		return ""
	}
	return conditions[0].Main
}
