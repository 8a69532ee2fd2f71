package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/weather-collector/internal/errors"
	"github.com/weather-collector/internal/job"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/scheduler"
	"github.com/weather-collector/internal/service"
	"github.com/weather-collector/internal/types"
)

type fakeQueries struct {
	current *service.CurrentResult
	history []*models.WeatherObservation
	summary *models.WeatherSummary
	csv     []byte
	cities  *service.CitiesResult
	err     error
}

func (f *fakeQueries) Current(ctx context.Context, city string) (*service.CurrentResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.current, nil
}

func (f *fakeQueries) History(ctx context.Context, city string, days int) ([]*models.WeatherObservation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

func (f *fakeQueries) Summary(ctx context.Context, city string, days int) (*models.WeatherSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func (f *fakeQueries) ExportCSV(ctx context.Context, city string, days int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.csv, nil
}

func (f *fakeQueries) Cities(ctx context.Context, limit int) (*service.CitiesResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cities, nil
}

type fakeScheduler struct {
	triggered []types.UpdateKind
	trigErr   error
	cancelErr error
	status    scheduler.Status
	history   []scheduler.HistoryEntry
}

func (f *fakeScheduler) TriggerUpdate(kind types.UpdateKind) error {
	if f.trigErr != nil {
		return f.trigErr
	}
	f.triggered = append(f.triggered, kind)
	return nil
}

func (f *fakeScheduler) CancelBackfill() error { return f.cancelErr }

func (f *fakeScheduler) Status() scheduler.Status { return f.status }

func (f *fakeScheduler) History(limit int) []scheduler.HistoryEntry { return f.history }

type fakeReporter struct {
	report *service.BackfillReport
	err    error
}

func (f *fakeReporter) StatusReport(ctx context.Context) (*service.BackfillReport, error) {
	return f.report, f.err
}

type fakeStats struct {
	stats *models.StoreStats
	err   error
}

func (f *fakeStats) Stats(ctx context.Context) (*models.StoreStats, error) {
	return f.stats, f.err
}

type fakeCatalog struct {
	upserted []*models.Location
	err      error
}

func (f *fakeCatalog) Upsert(ctx context.Context, loc *models.Location) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, loc)
	return nil
}

type fakeInvalidator struct {
	names []string
	err   error
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, names ...string) error {
	if f.err != nil {
		return f.err
	}
	f.names = append(f.names, names...)
	return nil
}

func testObservation() *models.WeatherObservation {
	return &models.WeatherObservation{
		LocationID:  2643743,
		Name:        "London",
		CountryCode: "GB",
		ObservedAt:  time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

type serverOption func(*testDeps)

type testDeps struct {
	queries *fakeQueries
	sched   *fakeScheduler
	tracker *fakeReporter
	catalog *fakeCatalog
	cache   *fakeInvalidator
	stats   *fakeStats
	config  *ServerConfig
}

func withAuthToken(token string) serverOption {
	return func(d *testDeps) { d.config.AuthToken = token }
}

func newTestServer(t *testing.T, opts ...serverOption) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		queries: &fakeQueries{
			current: &service.CurrentResult{Observation: testObservation(), Source: "cache"},
			history: []*models.WeatherObservation{testObservation()},
			summary: &models.WeatherSummary{Name: "London", CountryCode: "GB", Days: 7, Observations: 1},
			csv:     []byte("observed_at,city\n2026-08-30T12:00:00Z,London\n"),
			cities:  &service.CitiesResult{Total: 1, Cities: []models.Location{{Name: "London", CountryCode: "GB"}}},
		},
		sched:   &fakeScheduler{},
		tracker: &fakeReporter{report: &service.BackfillReport{Complete: true}},
		catalog: &fakeCatalog{},
		cache:   &fakeInvalidator{},
		stats:   &fakeStats{stats: &models.StoreStats{TotalObservations: 42}},
		config:  &ServerConfig{Host: "127.0.0.1", Port: "0", ClientRPS: 1000},
	}
	for _, opt := range opts {
		opt(deps)
	}
	usage := func() interface{} { return map[string]int{"requests": 7} }
	server := NewServer(deps.config, deps.queries, deps.sched, deps.tracker,
		deps.catalog, deps.cache, usage, deps.stats)
	return server, deps
}

func doRequest(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:4321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCurrentWeather(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/api/v1/weather/current/London", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "London", payload["city"])
	assert.Equal(t, "cache", payload["source"])
	assert.NotNil(t, payload["observation"])
}

func TestCurrentWeatherUnknownCity(t *testing.T) {
	s, deps := newTestServer(t)
	deps.queries.err = apperrors.NewNotFoundError("location", "Atlantis")

	rec := doRequest(t, s, "GET", "/api/v1/weather/current/Atlantis", "", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "NOT_FOUND", errResp.Error.Code)
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	s, deps := newTestServer(t)
	deps.queries.err = apperrors.NewDatabaseError("query", assert.AnError)

	rec := doRequest(t, s, "GET", "/api/v1/weather/current/London", "", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "An internal error occurred", errResp.Error.Message)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestHistoryDaysValidation(t *testing.T) {
	s, _ := newTestServer(t)

	for _, raw := range []string{"0", "366", "-3", "abc"} {
		rec := doRequest(t, s, "GET", "/api/v1/weather/history/London?days="+raw, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "days=%s", raw)
	}

	rec := doRequest(t, s, "GET", "/api/v1/weather/history/London?days=14", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, float64(14), payload["days"])
	assert.Equal(t, float64(1), payload["count"])
}

func TestWeatherExportHeaders(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/api/v1/weather/export/London", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "London")
}

func TestCitiesLimitValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, "GET", "/api/v1/cities?limit=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, "GET", "/api/v1/cities?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])
}

func TestAdminAuth(t *testing.T) {
	s, _ := newTestServer(t, withAuthToken("sekret"))

	rec := doRequest(t, s, "GET", "/api/v1/admin/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no token")

	rec = doRequest(t, s, "GET", "/api/v1/admin/status", "", map[string]string{
		"Authorization": "Bearer wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong token")

	rec = doRequest(t, s, "GET", "/api/v1/admin/status", "", map[string]string{
		"Authorization": "Bearer sekret",
	})
	assert.Equal(t, http.StatusOK, rec.Code, "correct token")
}

func TestAdminAuthDisabledWhenNoToken(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/api/v1/admin/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminStatusSections(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/api/v1/admin/status", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Contains(t, payload, "scheduler")
	assert.Contains(t, payload, "provider")
	assert.Contains(t, payload, "store")
}

func TestTriggerUpdate(t *testing.T) {
	s, deps := newTestServer(t)

	rec := doRequest(t, s, "POST", "/api/v1/admin/update", `{"type":"current"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, deps.sched.triggered, 1)
	assert.Equal(t, types.UpdateKindCurrent, deps.sched.triggered[0])

	rec = doRequest(t, s, "POST", "/api/v1/admin/update", `{"type":"backfill"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestTriggerUpdateRejectsBadInput(t *testing.T) {
	s, deps := newTestServer(t)

	rec := doRequest(t, s, "POST", "/api/v1/admin/update", `{"type":"nonsense"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, "POST", "/api/v1/admin/update", `{"type":"current","extra":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = doRequest(t, s, "POST", "/api/v1/admin/update", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, deps.sched.triggered)
}

func TestTriggerUpdateConflict(t *testing.T) {
	s, deps := newTestServer(t)
	deps.sched.trigErr = apperrors.NewSchedulingError("collect_current", "collection tick already running")

	rec := doRequest(t, s, "POST", "/api/v1/admin/update", `{"type":"current"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBackfillStatusRoute(t *testing.T) {
	s, deps := newTestServer(t)
	deps.sched.status = scheduler.Status{
		Backfill: &job.BackfillStatus{State: types.JobStateRunning, DaysTotal: 30, DaysDone: 12},
	}

	rec := doRequest(t, s, "GET", "/api/v1/admin/backfill-status", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Contains(t, payload, "coverage")
	run, ok := payload["run"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(types.JobStateRunning), run["state"])
}

func TestJobsRoute(t *testing.T) {
	s, deps := newTestServer(t)
	deps.sched.status = scheduler.Status{
		Jobs: []scheduler.JobStatus{{Name: "collect_current", State: types.JobStateIdle}},
	}
	deps.sched.history = []scheduler.HistoryEntry{
		{Job: "collect_current", Outcome: "ok", Written: 3},
	}

	rec := doRequest(t, s, "GET", "/api/v1/admin/jobs", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Len(t, payload["jobs"], 1)
	assert.Len(t, payload["history"], 1)
}

func TestCancelBackfill(t *testing.T) {
	s, deps := newTestServer(t)

	rec := doRequest(t, s, "POST", "/api/v1/admin/backfill/cancel", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	deps.sched.cancelErr = apperrors.NewSchedulingError("backfill", "no active backfill to cancel")
	rec = doRequest(t, s, "POST", "/api/v1/admin/backfill/cancel", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpsertLocation(t *testing.T) {
	s, deps := newTestServer(t)

	body := `{"providerId": 2964574, "name": "Dublin", "countryCode": "IE", "region": "Europe", "monitored": true, "priority": 60}`
	rec := doRequest(t, s, "PUT", "/api/v1/admin/locations", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, deps.catalog.upserted, 1)
	assert.Equal(t, uint32(2964574), deps.catalog.upserted[0].ProviderID)
	assert.Equal(t, "Dublin", deps.catalog.upserted[0].Name)
	assert.Equal(t, []string{"Dublin"}, deps.cache.names, "the cached observation is dropped")
}

func TestUpsertLocationValidation(t *testing.T) {
	s, deps := newTestServer(t)

	for name, body := range map[string]string{
		"missing provider id": `{"name": "Dublin", "countryCode": "IE"}`,
		"missing name":        `{"providerId": 2964574, "countryCode": "IE"}`,
		"bad country code":    `{"providerId": 2964574, "name": "Dublin", "countryCode": "IRL"}`,
		"not json":            `not json`,
	} {
		rec := doRequest(t, s, "PUT", "/api/v1/admin/locations", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	assert.Empty(t, deps.catalog.upserted)
	assert.Empty(t, deps.cache.names)
}

func TestUpsertLocationSurvivesCacheError(t *testing.T) {
	s, deps := newTestServer(t)
	deps.cache.err = assert.AnError

	body := `{"providerId": 2964574, "name": "Dublin", "countryCode": "IE"}`
	rec := doRequest(t, s, "PUT", "/api/v1/admin/locations", body, nil)

	assert.Equal(t, http.StatusOK, rec.Code, "a cache failure does not undo the catalog write")
	require.Len(t, deps.catalog.upserted, 1)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/health", "", map[string]string{
		"X-Request-ID": "my-trace-id",
	})
	assert.Equal(t, "my-trace-id", rec.Header().Get("X-Request-ID"))
}

func TestRateLimitKicksIn(t *testing.T) {
	s, _ := newTestServer(t)

	// Rebuild with a tight limit so the burst is exhausted quickly.
	limited := NewServer(&ServerConfig{ClientRPS: 1}, s.queries, s.sched, s.tracker,
		s.catalog, s.cacheInv, s.usage, s.stats)

	var throttled bool
	for i := 0; i < 10; i++ {
		rec := doRequest(t, limited, "GET", "/health", "", nil)
		if rec.Code == http.StatusTooManyRequests {
			throttled = true
			break
		}
	}
	assert.True(t, throttled, "burst of 2 is exhausted within 10 instant requests")
}
