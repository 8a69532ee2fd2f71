package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jszwec/csvutil"

	apperrors "github.com/weather-collector/internal/errors"
	"github.com/weather-collector/internal/logging"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/storage"
)

// ObservationReader is the read surface of the observation store.
type ObservationReader interface {
	QueryRange(ctx context.Context, filter storage.ObservationFilter) ([]*models.WeatherObservation, error)
	LatestByName(ctx context.Context, name string) (*models.WeatherObservation, error)
	SummaryByName(ctx context.Context, name string, days int) (*models.WeatherSummary, error)
}

// CatalogReader is the read surface of the location catalog.
type CatalogReader interface {
	GetByName(ctx context.Context, name string) (*models.Location, error)
	ListAll(ctx context.Context) ([]models.Location, error)
	GroupByRegion(ctx context.Context) (map[string][]models.Location, error)
}

// ReadThroughCache is the cache surface the query side needs.
type ReadThroughCache interface {
	GetLatest(ctx context.Context, name string) (*models.WeatherObservation, bool, error)
	SetLatest(ctx context.Context, obs *models.WeatherObservation) error
}

// LiveFetcher fetches current conditions on demand for cache/store misses.
type LiveFetcher interface {
	FetchCurrent(ctx context.Context, loc models.Location) (*models.WeatherObservation, error)
}

// QueryService serves the read side of the API: current conditions, history,
// summaries and exports.
type QueryService struct {
	observations ObservationReader
	catalog      CatalogReader
	cache        ReadThroughCache
	live         LiveFetcher
	store        ObservationWriter
	staleAfter   time.Duration
}

// NewQueryService creates a new query service. cache and live may be nil; the
// service then serves straight from the store.
func NewQueryService(
	observations ObservationReader,
	catalog CatalogReader,
	cache ReadThroughCache,
	live LiveFetcher,
	store ObservationWriter,
	staleAfter time.Duration,
) *QueryService {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Hour
	}
	return &QueryService{
		observations: observations,
		catalog:      catalog,
		cache:        cache,
		live:         live,
		store:        store,
		staleAfter:   staleAfter,
	}
}

// CurrentResult carries the observation plus where it was served from.
type CurrentResult struct {
	Observation *models.WeatherObservation `json:"observation"`
	Source      string                     `json:"source"` // cache | store | live
}

// Current returns the freshest conditions for a city: cache first, then the
// store, then a live provider fetch when the stored reading has gone stale.
// Unknown cities are a not-found error regardless of path.
func (s *QueryService) Current(ctx context.Context, city string) (*CurrentResult, error) {
	logger := logging.FromContext(ctx)

	loc, err := s.catalog.GetByName(ctx, city)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if obs, hit, err := s.cache.GetLatest(ctx, loc.Name); err == nil && hit {
			return &CurrentResult{Observation: obs, Source: "cache"}, nil
		} else if err != nil {
			logger.WithError(err).Warn("Latest-observation cache unavailable, falling back to store")
		}
	}

	obs, err := s.observations.LatestByName(ctx, loc.Name)
	if err == nil && time.Since(obs.ObservedAt) <= s.staleAfter {
		s.refreshCache(ctx, obs)
		return &CurrentResult{Observation: obs, Source: "store"}, nil
	}
	if err != nil && apperrors.CategoryOf(err) != apperrors.CategoryNotFound {
		return nil, err
	}

	if s.live == nil {
		if err != nil {
			return nil, err
		}
		// Stale but present beats nothing when live fetches are disabled.
		return &CurrentResult{Observation: obs, Source: "store"}, nil
	}

	fresh, liveErr := s.live.FetchCurrent(ctx, *loc)
	if liveErr != nil {
		if err == nil {
			logger.WithError(liveErr).WithField("location", loc.Name).
				Warn("Live fetch failed, serving stale stored observation")
			return &CurrentResult{Observation: obs, Source: "store"}, nil
		}
		return nil, liveErr
	}

	if s.store != nil {
		if _, err := s.store.UpsertBatch(ctx, []*models.WeatherObservation{fresh}); err != nil {
			logger.WithError(err).Warn("Failed to persist live-fetched observation")
		}
	}
	s.refreshCache(ctx, fresh)

	return &CurrentResult{Observation: fresh, Source: "live"}, nil
}

// History returns a city's observations over the trailing number of days,
// newest first. days is clamped to 1..365 with a default of 7.
func (s *QueryService) History(ctx context.Context, city string, days int) ([]*models.WeatherObservation, error) {
	days = clampDays(days)

	loc, err := s.catalog.GetByName(ctx, city)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return s.observations.QueryRange(ctx, storage.ObservationFilter{
		CountryCode: loc.CountryCode,
		LocationID:  loc.ProviderID,
		From:        now.AddDate(0, 0, -days),
		To:          now,
		Descending:  true,
	})
}

// Summary aggregates a city's trailing window.
func (s *QueryService) Summary(ctx context.Context, city string, days int) (*models.WeatherSummary, error) {
	if _, err := s.catalog.GetByName(ctx, city); err != nil {
		return nil, err
	}
	return s.observations.SummaryByName(ctx, city, clampDays(days))
}

// exportRow is the flat CSV shape of one observation.
type exportRow struct {
	ObservedAt  string   `csv:"observed_at"`
	City        string   `csv:"city"`
	CountryCode string   `csv:"country_code"`
	Condition   string   `csv:"condition"`
	Temperature *float64 `csv:"temperature"`
	FeelsLike   *float64 `csv:"feels_like"`
	Pressure    *float64 `csv:"pressure"`
	Humidity    *float64 `csv:"humidity"`
	WindSpeed   *float64 `csv:"wind_speed"`
	CloudCover  *float64 `csv:"cloud_cover"`
}

// ExportCSV renders a city's trailing history as CSV.
func (s *QueryService) ExportCSV(ctx context.Context, city string, days int) ([]byte, error) {
	observations, err := s.History(ctx, city, days)
	if err != nil {
		return nil, err
	}

	rows := make([]exportRow, 0, len(observations))
	for _, obs := range observations {
		condition := ""
		if len(obs.Conditions) > 0 {
			condition = obs.Conditions[0].Main
		}
		rows = append(rows, exportRow{
			ObservedAt:  obs.ObservedAt.UTC().Format(time.RFC3339),
			City:        obs.Name,
			CountryCode: obs.CountryCode,
			Condition:   condition,
			Temperature: obs.Measurements.Temperature,
			FeelsLike:   obs.Measurements.FeelsLike,
			Pressure:    obs.Measurements.Pressure,
			Humidity:    obs.Measurements.Humidity,
			WindSpeed:   obs.Wind.Speed,
			CloudCover:  obs.Clouds.All,
		})
	}

	data, err := csvutil.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal csv: %w", err)
	}
	return data, nil
}

// CitiesResult is the cities listing: flat when limited, grouped otherwise.
type CitiesResult struct {
	Total    int                          `json:"total"`
	Cities   []models.Location            `json:"cities,omitempty"`
	ByRegion map[string][]models.Location `json:"byRegion,omitempty"`
}

// Cities lists the catalog. With a positive limit the result is a flat list
// capped at limit; otherwise the catalog is grouped by region.
func (s *QueryService) Cities(ctx context.Context, limit int) (*CitiesResult, error) {
	if limit > 0 {
		all, err := s.catalog.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		result := &CitiesResult{Total: len(all)}
		if limit > len(all) {
			limit = len(all)
		}
		result.Cities = all[:limit]
		return result, nil
	}

	grouped, err := s.catalog.GroupByRegion(ctx)
	if err != nil {
		return nil, err
	}
	result := &CitiesResult{ByRegion: grouped}
	for _, locs := range grouped {
		result.Total += len(locs)
	}
	return result, nil
}

func (s *QueryService) refreshCache(ctx context.Context, obs *models.WeatherObservation) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetLatest(ctx, obs); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to refresh latest-observation cache")
	}
}

func clampDays(days int) int {
	switch {
	case days <= 0:
		return 7
	case days > 365:
		return 365
	default:
		return days
	}
}
