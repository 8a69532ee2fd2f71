// Package adapter implements the rate-limited client for the external
// weather provider.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/weather-collector/internal/errors"
	"github.com/weather-collector/internal/logging"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/ratelimit"
	"github.com/weather-collector/internal/retry"
	"github.com/weather-collector/internal/types"
)

// FetchResult is the per-location outcome of a current-conditions batch.
type FetchResult struct {
	Location    models.Location
	Observation *models.WeatherObservation
	Err         error
}

// HistoryResult is the per-location outcome of a historical-day batch.
type HistoryResult struct {
	Location     models.Location
	Observations []*models.WeatherObservation
	Err          error
}

// UsageStats reports client activity for the admin status surface.
type UsageStats struct {
	RequestsIssued int64                     `json:"requestsIssued"`
	RequestsFailed int64                     `json:"requestsFailed"`
	KeyConfigured  bool                      `json:"keyConfigured"`
	Limiter        ratelimit.MetricsSnapshot `json:"limiter"`
}

// OpenWeatherClient fetches observations from the OpenWeather API. Every
// request first waits on the limiter, runs through the circuit breaker, and
// retries transient failures with exponential backoff. The client holds no
// business state beyond its limiter, breaker, and usage counters.
type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	retry   *retry.Config

	requestsIssued atomic.Int64
	requestsFailed atomic.Int64
}

// OpenWeatherClientConfig holds configuration for the client.
type OpenWeatherClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// Limiter gates every outbound request. Required.
	Limiter ratelimit.Limiter
	// MaxRetries is the total attempt cap per request. Default: 3.
	MaxRetries int
}

// NewOpenWeatherClient creates a new provider client.
func NewOpenWeatherClient(cfg *OpenWeatherClientConfig) (*OpenWeatherClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org/data/2.5"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	retryCfg.ShouldRetry = apperrors.IsRetryable
	retryCfg.DelayHint = func(err error) time.Duration {
		return apperrors.Categorize(err).RetryAfterHint()
	}

	// Breaker thresholds sit above the bounded-retry budget so that retry
	// semantics stay observable; the breaker only trips on sustained outages.
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	})

	return &OpenWeatherClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: cfg.Limiter,
		breaker: breaker,
		retry:   retryCfg,
	}, nil
}

// FetchCurrent fetches the current conditions for one location.
func (c *OpenWeatherClient) FetchCurrent(ctx context.Context, loc models.Location) (*models.WeatherObservation, error) {
	if c.apiKey == "" {
		return nil, apperrors.NewConfigurationError("OPENWEATHER_API_KEY", "provider API key not configured")
	}

	params := url.Values{}
	params.Set("id", strconv.FormatUint(uint64(loc.ProviderID), 10))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")

	body, err := c.fetchWithRetry(ctx, loc, c.baseURL+"/weather?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var payload owCurrentResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.NewPermanentFetchError("failed to parse provider response", err)
	}

	return payload.normalize(loc, payload.Cod), nil
}

// FetchDay fetches the hourly history for one location and one UTC day.
// This is the unit of backfill work: one request per (location, day).
func (c *OpenWeatherClient) FetchDay(ctx context.Context, loc models.Location, day time.Time) ([]*models.WeatherObservation, error) {
	if c.apiKey == "" {
		return nil, apperrors.NewConfigurationError("OPENWEATHER_API_KEY", "provider API key not configured")
	}

	start := types.StartOfDay(day)
	end := start.AddDate(0, 0, 1)

	params := url.Values{}
	params.Set("id", strconv.FormatUint(uint64(loc.ProviderID), 10))
	params.Set("type", "hour")
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")

	body, err := c.fetchWithRetry(ctx, loc, c.baseURL+"/history/city?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var payload owHistoryResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.NewPermanentFetchError("failed to parse provider history response", err)
	}

	status, _ := strconv.Atoi(payload.Cod)
	observations := make([]*models.WeatherObservation, 0, len(payload.List))
	for i := range payload.List {
		observations = append(observations, payload.List[i].normalize(loc, status))
	}

	return observations, nil
}

// FetchCurrentBatch fetches current conditions for all locations, bounding
// in-flight requests to maxConcurrent. One location's permanent failure does
// not abort the batch; the result slice carries a per-location outcome in
// catalog order.
func (c *OpenWeatherClient) FetchCurrentBatch(ctx context.Context, locations []models.Location, maxConcurrent int) []FetchResult {
	results := make([]FetchResult, len(locations))

	sem := newSemaphore(maxConcurrent)
	var wg sync.WaitGroup
	for i, loc := range locations {
		wg.Add(1)
		go func(i int, loc models.Location) {
			defer wg.Done()
			if err := sem.acquire(ctx); err != nil {
				results[i] = FetchResult{Location: loc, Err: err}
				return
			}
			defer sem.release()

			obs, err := c.FetchCurrent(ctx, loc)
			results[i] = FetchResult{Location: loc, Observation: obs, Err: err}
		}(i, loc)
	}
	wg.Wait()

	return results
}

// FetchDayBatch fetches one historical day for all locations with the same
// concurrency and partial-failure discipline as FetchCurrentBatch.
func (c *OpenWeatherClient) FetchDayBatch(ctx context.Context, locations []models.Location, day time.Time, maxConcurrent int) []HistoryResult {
	results := make([]HistoryResult, len(locations))

	sem := newSemaphore(maxConcurrent)
	var wg sync.WaitGroup
	for i, loc := range locations {
		wg.Add(1)
		go func(i int, loc models.Location) {
			defer wg.Done()
			if err := sem.acquire(ctx); err != nil {
				results[i] = HistoryResult{Location: loc, Err: err}
				return
			}
			defer sem.release()

			observations, err := c.FetchDay(ctx, loc, day)
			results[i] = HistoryResult{Location: loc, Observations: observations, Err: err}
		}(i, loc)
	}
	wg.Wait()

	return results
}

// UsageStats returns client activity counters.
func (c *OpenWeatherClient) UsageStats() UsageStats {
	stats := UsageStats{
		RequestsIssued: c.requestsIssued.Load(),
		RequestsFailed: c.requestsFailed.Load(),
		KeyConfigured:  c.apiKey != "",
	}
	if wl, ok := c.limiter.(*ratelimit.WindowLimiter); ok {
		stats.Limiter = wl.Metrics().Snapshot()
	}
	if bl, ok := c.limiter.(*ratelimit.BudgetLimiter); ok {
		stats.Limiter = bl.Metrics().Snapshot()
	}
	return stats
}

// fetchWithRetry runs one logical fetch: wait for a rate-limit slot, issue
// the request, and retry transient failures with backoff. Exhausted retries
// surface as a permanent error for this location only.
func (c *OpenWeatherClient) fetchWithRetry(ctx context.Context, loc models.Location, url string) ([]byte, error) {
	var body []byte

	result := retry.WithExponentialBackoff(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		b, err := c.doRequest(ctx, loc, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	})

	if !result.Success {
		return nil, apperrors.ExhaustRetries(result.LastError, result.Attempts)
	}
	return body, nil
}

// doRequest performs a single HTTP GET and maps the response status onto the
// error taxonomy. 404 is never retried; 429 honors Retry-After; 5xx and
// transport errors are transient.
func (c *OpenWeatherClient) doRequest(ctx context.Context, loc models.Location, url string) ([]byte, error) {
	c.requestsIssued.Add(1)

	resp, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, apperrors.NewPermanentFetchError("failed to create request", err)
		}
		return c.client.Do(req)
	})
	if err != nil {
		c.requestsFailed.Add(1)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperrors.NewTransientFetchError("provider circuit open", err)
		}
		var catErr *apperrors.CategorizedError
		if errors.As(err, &catErr) {
			return nil, err
		}
		return nil, apperrors.NewTransientFetchError("request failed", err)
	}

	httpResp := resp.(*http.Response)
	body, err := io.ReadAll(httpResp.Body)
	_ = httpResp.Body.Close()
	if err != nil {
		c.requestsFailed.Add(1)
		return nil, apperrors.NewTransientFetchError("failed to read response body", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		return body, nil

	case httpResp.StatusCode == http.StatusNotFound:
		c.requestsFailed.Add(1)
		return nil, apperrors.NewInvalidLocationError(fmt.Sprintf("%s (id %d)", loc.Name, loc.ProviderID))

	case httpResp.StatusCode == http.StatusUnauthorized:
		c.requestsFailed.Add(1)
		return nil, apperrors.NewPermanentFetchError("provider rejected API key", nil)

	case httpResp.StatusCode == http.StatusTooManyRequests:
		c.requestsFailed.Add(1)
		retryAfter := 0
		if header := httpResp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil {
				retryAfter = seconds
			}
		}
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"location":   loc.Name,
			"retryAfter": retryAfter,
		}).Warn("Provider rate limit hit")
		return nil, apperrors.NewProviderRateLimitError(retryAfter)

	case httpResp.StatusCode >= 500:
		c.requestsFailed.Add(1)
		return nil, apperrors.NewTransientFetchError(
			fmt.Sprintf("provider returned %d", httpResp.StatusCode), nil)

	default:
		c.requestsFailed.Add(1)
		return nil, apperrors.NewPermanentFetchError(
			fmt.Sprintf("unexpected provider status %d", httpResp.StatusCode), nil)
	}
}

// semaphore bounds in-flight requests within a batch.
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(n int) *semaphore {
	if n < 1 {
		n = 1
	}
	return &semaphore{slots: make(chan struct{}, n)}
}

func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	<-s.slots
}
