// Package service implements the collection pipeline, backfill tracking and
// the read-side query surface on top of the adapter and storage layers.
package service

import (
	"context"
	"time"

	"github.com/weather-collector/internal/adapter"
	"github.com/weather-collector/internal/logging"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/storage"
)

// CurrentFetcher is the adapter surface the collector needs.
type CurrentFetcher interface {
	FetchCurrentBatch(ctx context.Context, locations []models.Location, maxConcurrent int) []adapter.FetchResult
}

// ObservationWriter is the store surface the collector needs.
type ObservationWriter interface {
	UpsertBatch(ctx context.Context, observations []*models.WeatherObservation) (*storage.UpsertResult, error)
}

// LatestCache is the write-through cache surface; nil-able by wrapping.
type LatestCache interface {
	SetLatest(ctx context.Context, obs *models.WeatherObservation) error
}

// LocationLister reads the monitored catalog.
type LocationLister interface {
	ListMonitored(ctx context.Context, limit int) ([]models.Location, error)
}

// CollectorService runs one collection tick: fetch current conditions for the
// monitored catalog, persist the batch, refresh the latest-observation cache.
type CollectorService struct {
	fetcher       CurrentFetcher
	store         ObservationWriter
	cache         LatestCache
	locations     LocationLister
	monitorCount  int
	maxConcurrent int
}

// NewCollectorService creates a new collector service. cache may be nil when
// no Redis is deployed.
func NewCollectorService(
	fetcher CurrentFetcher,
	store ObservationWriter,
	cache LatestCache,
	locations LocationLister,
	monitorCount int,
	maxConcurrent int,
) *CollectorService {
	return &CollectorService{
		fetcher:       fetcher,
		store:         store,
		cache:         cache,
		locations:     locations,
		monitorCount:  monitorCount,
		maxConcurrent: maxConcurrent,
	}
}

// TickFailure records one location's failure within an otherwise-committed tick.
type TickFailure struct {
	Location string `json:"location"`
	Error    string `json:"error"`
}

// TickSummary reports the outcome of one collection tick.
type TickSummary struct {
	Locations int           `json:"locations"`
	Fetched   int           `json:"fetched"`
	Written   int           `json:"written"`
	Rejected  int           `json:"rejected"`
	Failures  []TickFailure `json:"failures,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// RunCurrentTick executes one collection pass over the monitored catalog.
// Per-location fetch failures are collected and logged, never abort the tick:
// whatever was fetched is committed.
func (s *CollectorService) RunCurrentTick(ctx context.Context) (*TickSummary, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()

	locations, err := s.locations.ListMonitored(ctx, s.monitorCount)
	if err != nil {
		return nil, err
	}

	summary := &TickSummary{Locations: len(locations)}
	if len(locations) == 0 {
		logger.Warn("No monitored locations in catalog, skipping tick")
		summary.Duration = time.Since(start)
		return summary, nil
	}

	results := s.fetcher.FetchCurrentBatch(ctx, locations, s.maxConcurrent)

	observations := make([]*models.WeatherObservation, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			summary.Failures = append(summary.Failures, TickFailure{
				Location: res.Location.Name,
				Error:    res.Err.Error(),
			})
			logger.WithError(res.Err).WithField("location", res.Location.Name).
				Warn("Failed to fetch current conditions")
			continue
		}
		observations = append(observations, res.Observation)
	}
	summary.Fetched = len(observations)

	if len(observations) > 0 {
		result, err := s.store.UpsertBatch(ctx, observations)
		if err != nil {
			return summary, err
		}
		summary.Written = result.Written
		summary.Rejected = len(result.Rejected)

		if s.cache != nil {
			for _, obs := range observations {
				if err := s.cache.SetLatest(ctx, obs); err != nil {
					// Cache refresh failures degrade reads, not the pipeline.
					logger.WithError(err).WithField("location", obs.Name).
						Warn("Failed to refresh latest-observation cache")
				}
			}
		}
	}

	summary.Duration = time.Since(start)
	logger.WithFields(map[string]interface{}{
		"locations": summary.Locations,
		"fetched":   summary.Fetched,
		"written":   summary.Written,
		"failed":    len(summary.Failures),
		"duration":  summary.Duration,
	}).Info("Collection tick finished")

	return summary, nil
}
