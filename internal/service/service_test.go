package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/weather-collector/internal/adapter"
	apperrors "github.com/weather-collector/internal/errors"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/storage"
)

// Shared in-memory fakes for the service tests.

type fakeCatalog struct {
	locations []models.Location
	err       error
}

func (f *fakeCatalog) ListMonitored(ctx context.Context, limit int) ([]models.Location, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.locations) {
		return f.locations[:limit], nil
	}
	return f.locations, nil
}

func (f *fakeCatalog) ListAll(ctx context.Context) ([]models.Location, error) {
	return f.ListMonitored(ctx, 0)
}

func (f *fakeCatalog) GetByName(ctx context.Context, name string) (*models.Location, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, loc := range f.locations {
		if loc.Name == name {
			l := loc
			return &l, nil
		}
	}
	return nil, apperrors.NewNotFoundError("location", name)
}

func (f *fakeCatalog) GroupByRegion(ctx context.Context) (map[string][]models.Location, error) {
	if f.err != nil {
		return nil, f.err
	}
	grouped := make(map[string][]models.Location)
	for _, loc := range f.locations {
		grouped[loc.Region] = append(grouped[loc.Region], loc)
	}
	return grouped, nil
}

// fakeStore keeps observations keyed by identity, mimicking the replacing
// upsert of the real table.
type fakeStore struct {
	mu           sync.Mutex
	observations map[string]*models.WeatherObservation
	writeErr     error
	upserts      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{observations: make(map[string]*models.WeatherObservation)}
}

func (f *fakeStore) UpsertBatch(ctx context.Context, observations []*models.WeatherObservation) (*storage.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.upserts++
	result := &storage.UpsertResult{}
	for _, obs := range observations {
		if err := obs.Validate(); err != nil {
			result.Rejected = append(result.Rejected, storage.RecordError{
				IdentityKey: obs.IdentityKey(),
				Reason:      err.Error(),
			})
			continue
		}
		f.observations[obs.IdentityKey()] = obs
		result.Written++
	}
	return result, nil
}

func (f *fakeStore) all() []*models.WeatherObservation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.WeatherObservation
	for _, obs := range f.observations {
		out = append(out, obs)
	}
	return out
}

func (f *fakeStore) QueryRange(ctx context.Context, filter storage.ObservationFilter) ([]*models.WeatherObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.WeatherObservation
	for _, obs := range f.observations {
		if filter.Name != "" && obs.Name != filter.Name {
			continue
		}
		if filter.CountryCode != "" && obs.CountryCode != filter.CountryCode {
			continue
		}
		if filter.LocationID != 0 && obs.LocationID != filter.LocationID {
			continue
		}
		if !filter.From.IsZero() && obs.ObservedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !obs.ObservedAt.Before(filter.To) {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (f *fakeStore) LatestByName(ctx context.Context, name string) (*models.WeatherObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.WeatherObservation
	for _, obs := range f.observations {
		if obs.Name != name {
			continue
		}
		if latest == nil || obs.ObservedAt.After(latest.ObservedAt) {
			latest = obs
		}
	}
	if latest == nil {
		return nil, apperrors.NewNotFoundError("observations", name)
	}
	return latest, nil
}

func (f *fakeStore) SummaryByName(ctx context.Context, name string, days int) (*models.WeatherSummary, error) {
	observations, _ := f.QueryRange(ctx, storage.ObservationFilter{Name: name})
	if len(observations) == 0 {
		return nil, apperrors.NewNotFoundError("observations", name)
	}
	return &models.WeatherSummary{
		Name:         name,
		Days:         days,
		Observations: uint64(len(observations)),
	}, nil
}

func (f *fakeStore) EarliestPerLocation(ctx context.Context) ([]storage.LocationCoverage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byKey := make(map[string]*storage.LocationCoverage)
	for _, obs := range f.observations {
		key := coverageKey(obs.CountryCode, obs.LocationID)
		c, ok := byKey[key]
		if !ok {
			byKey[key] = &storage.LocationCoverage{
				CountryCode: obs.CountryCode,
				LocationID:  obs.LocationID,
				Name:        obs.Name,
				Earliest:    obs.ObservedAt,
				Latest:      obs.ObservedAt,
				Count:       1,
			}
			continue
		}
		if obs.ObservedAt.Before(c.Earliest) {
			c.Earliest = obs.ObservedAt
		}
		if obs.ObservedAt.After(c.Latest) {
			c.Latest = obs.ObservedAt
		}
		c.Count++
	}
	var out []storage.LocationCoverage
	for _, c := range byKey {
		out = append(out, *c)
	}
	return out, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*models.WeatherObservation
	setErr  error
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*models.WeatherObservation)}
}

func (f *fakeCache) SetLatest(ctx context.Context, obs *models.WeatherObservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[obs.Name] = obs
	return nil
}

func (f *fakeCache) GetLatest(ctx context.Context, name string) (*models.WeatherObservation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	obs, ok := f.entries[name]
	return obs, ok, nil
}

// fakeFetcher returns canned observations per location id and errors for ids
// listed in fail.
type fakeFetcher struct {
	mu       sync.Mutex
	fail     map[uint32]error
	observed time.Time
	calls    int
}

func (f *fakeFetcher) observation(loc models.Location, observedAt time.Time) *models.WeatherObservation {
	temp := 20.0
	return &models.WeatherObservation{
		LocationID:  loc.ProviderID,
		Name:        loc.Name,
		CountryCode: loc.CountryCode,
		ObservedAt:  observedAt,
		Conditions:  []models.Condition{{ID: 800, Main: "Clear"}},
		Measurements: models.Measurements{
			Temperature: &temp,
		},
	}
}

func (f *fakeFetcher) FetchCurrent(ctx context.Context, loc models.Location) (*models.WeatherObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.fail[loc.ProviderID]; ok {
		return nil, err
	}
	observedAt := f.observed
	if observedAt.IsZero() {
		observedAt = time.Now().UTC().Truncate(time.Second)
	}
	return f.observation(loc, observedAt), nil
}

func (f *fakeFetcher) FetchCurrentBatch(ctx context.Context, locations []models.Location, maxConcurrent int) []adapter.FetchResult {
	results := make([]adapter.FetchResult, len(locations))
	for i, loc := range locations {
		obs, err := f.FetchCurrent(ctx, loc)
		results[i] = adapter.FetchResult{Location: loc, Observation: obs, Err: err}
	}
	return results
}

func (f *fakeFetcher) FetchDayBatch(ctx context.Context, locations []models.Location, day time.Time, maxConcurrent int) []adapter.HistoryResult {
	results := make([]adapter.HistoryResult, len(locations))
	for i, loc := range locations {
		if err, ok := f.fail[loc.ProviderID]; ok {
			results[i] = adapter.HistoryResult{Location: loc, Err: err}
			continue
		}
		var observations []*models.WeatherObservation
		for hour := 0; hour < 24; hour++ {
			observations = append(observations, f.observation(loc, day.Add(time.Duration(hour)*time.Hour)))
		}
		f.mu.Lock()
		f.calls++
		f.mu.Unlock()
		results[i] = adapter.HistoryResult{Location: loc, Observations: observations}
	}
	return results
}

var errProviderDown = errors.New("provider unavailable")

func testCatalog() *fakeCatalog {
	return &fakeCatalog{locations: []models.Location{
		{ProviderID: 2643743, Name: "London", CountryCode: "GB", Region: "Europe", Monitored: true, Priority: 10},
		{ProviderID: 2988507, Name: "Paris", CountryCode: "FR", Region: "Europe", Monitored: true, Priority: 9},
		{ProviderID: 1850147, Name: "Tokyo", CountryCode: "JP", Region: "Asia", Monitored: true, Priority: 8},
	}}
}
