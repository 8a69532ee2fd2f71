package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default call budget configuration values.
const (
	DefaultBudgetLimit  = 60          // requests per window
	DefaultBudgetWindow = time.Minute // fixed window size
)

// KeyPrefixBudget is the Redis key prefix for per-window request counters.
const KeyPrefixBudget = "wx:budget:"

// CallBudget coordinates provider-call consumption across processes using
// Redis. Deployments running the API server and a headless worker against one
// provider key share a single fixed-window budget; the per-window counter is
// advanced with an atomic check-and-increment so concurrent consumers never
// overshoot the quota.
type CallBudget struct {
	redis  redis.Cmdable
	limit  int
	window time.Duration
	keyTTL time.Duration
}

// CallBudgetConfig holds configuration for the shared call budget.
type CallBudgetConfig struct {
	// Redis is the client used for cross-process coordination. Required.
	Redis redis.Cmdable

	// Limit is the number of requests allowed per window. Default: 60.
	Limit int

	// Window is the fixed window size. Default: 1m.
	Window time.Duration

	// KeyTTL is the TTL for per-window keys. Default: 2x window.
	KeyTTL time.Duration
}

// Validate checks if the configuration is valid.
func (c *CallBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if c.Window < 0 {
		return errors.New("window cannot be negative")
	}
	return nil
}

// NewCallBudget creates a budget with the given configuration.
func NewCallBudget(cfg *CallBudgetConfig) (*CallBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	limit := cfg.Limit
	if limit == 0 {
		limit = DefaultBudgetLimit
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultBudgetWindow
	}
	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = 2 * window
	}

	return &CallBudget{
		redis:  cfg.Redis,
		limit:  limit,
		window: window,
		keyTTL: keyTTL,
	}, nil
}

// windowTimestamp returns the aligned start of the current window.
func (b *CallBudget) windowTimestamp() int64 {
	return time.Now().Truncate(b.window).UnixMilli()
}

func (b *CallBudget) key(windowTS int64) string {
	return KeyPrefixBudget + strconv.FormatInt(windowTS, 10)
}

// budgetScript atomically checks the window counter against the limit and
// increments it only when the request fits.
var budgetScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + 1 > limit then
		return {0, used}
	end

	redis.call('INCR', key)
	redis.call('EXPIRE', key, ttl)
	return {1, used + 1}
`)

// TryConsume attempts to consume one request slot.
//
// Returns:
//   - allowed: true if the slot was granted
//   - waitTime: suggested wait before retrying when denied
func (b *CallBudget) TryConsume(ctx context.Context) (bool, time.Duration) {
	windowTS := b.windowTimestamp()

	ttlSeconds := int(b.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := budgetScript.Run(ctx, b.redis, []string{b.key(windowTS)},
		b.limit, ttlSeconds).Int64Slice()
	if err != nil {
		// On Redis error, deny and wait out the window to stay under quota.
		return false, b.waitUntilNextWindow(windowTS)
	}

	if result[0] != 1 {
		return false, b.waitUntilNextWindow(windowTS)
	}
	return true, 0
}

// waitUntilNextWindow returns the time until the next window starts.
func (b *CallBudget) waitUntilNextWindow(windowTS int64) time.Duration {
	windowEnd := time.UnixMilli(windowTS).Add(b.window)
	wait := time.Until(windowEnd)
	if wait < 0 {
		wait = 0
	}
	// Small buffer so the retry lands inside the new window.
	return wait + time.Millisecond
}

// Used returns the number of slots consumed in the current window.
func (b *CallBudget) Used(ctx context.Context) (int, error) {
	val, err := b.redis.Get(ctx, b.key(b.windowTimestamp())).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}

// Limit returns the configured per-window request cap.
func (b *CallBudget) Limit() int {
	return b.limit
}

// Window returns the configured window size.
func (b *CallBudget) Window() time.Duration {
	return b.window
}

// BudgetLimiter adapts a CallBudget to the Limiter interface.
type BudgetLimiter struct {
	budget  *CallBudget
	metrics *Metrics
}

// NewBudgetLimiter wraps a shared call budget as a Limiter.
func NewBudgetLimiter(budget *CallBudget) *BudgetLimiter {
	return &BudgetLimiter{budget: budget, metrics: NewMetrics()}
}

// Allow consumes a slot if the shared budget has one free.
func (l *BudgetLimiter) Allow() bool {
	allowed, _ := l.budget.TryConsume(context.Background())
	if allowed {
		l.metrics.RecordConsumed()
	} else {
		l.metrics.RecordDenied()
	}
	return allowed
}

// Wait blocks until the shared budget grants a slot or ctx is done.
func (l *BudgetLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	for {
		allowed, wait := l.budget.TryConsume(ctx)
		if allowed {
			l.metrics.RecordConsumed()
			l.metrics.RecordWait(time.Since(start))
			return nil
		}
		l.metrics.RecordDenied()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Metrics returns the limiter's counters.
func (l *BudgetLimiter) Metrics() *Metrics {
	return l.metrics
}
