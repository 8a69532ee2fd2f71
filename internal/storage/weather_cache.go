package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weather-collector/internal/models"
)

// WeatherCache caches the latest observation per location in Redis so the
// current-conditions endpoint rarely touches ClickHouse. It is write-through:
// the collector refreshes entries after every successful tick, and the TTL
// bounds staleness when the collector falls behind.
type WeatherCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewWeatherCache creates a new weather cache with the given TTL.
func NewWeatherCache(redis *RedisCache, ttl time.Duration) *WeatherCache {
	return &WeatherCache{
		redis: redis,
		ttl:   ttl,
	}
}

// latestKey formats the cache key for a location's latest observation.
// Format: wx:latest:<name>, lowercased so lookups are case-insensitive.
func latestKey(name string) string {
	return "wx:latest:" + strings.ToLower(name)
}

// SetLatest stores the latest observation for a location.
func (c *WeatherCache) SetLatest(ctx context.Context, obs *models.WeatherObservation) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("failed to marshal observation: %w", err)
	}

	return c.redis.Set(ctx, latestKey(obs.Name), data, c.ttl)
}

// GetLatest retrieves the cached latest observation for a location name.
// A miss returns (nil, false, nil); callers fall back to the store.
func (c *WeatherCache) GetLatest(ctx context.Context, name string) (*models.WeatherObservation, bool, error) {
	data, err := c.redis.Get(ctx, latestKey(name))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cached observation: %w", err)
	}

	var obs models.WeatherObservation
	if err := json.Unmarshal([]byte(data), &obs); err != nil {
		// A corrupt entry behaves like a miss; the next write repairs it.
		_ = c.redis.Del(ctx, latestKey(name))
		return nil, false, nil
	}

	return &obs, true, nil
}

// Invalidate removes the cached entries for the given location names.
func (c *WeatherCache) Invalidate(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = latestKey(name)
	}
	return c.redis.Del(ctx, keys...)
}
