// Package ratelimit bounds outbound calls to the weather provider.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound provider requests. Callers that exceed the quota
// suspend until a slot frees rather than failing.
type Limiter interface {
	// Wait blocks until a request slot is available or the context is done.
	Wait(ctx context.Context) error
	// Allow reports whether a slot is available right now, consuming it if so.
	Allow() bool
}

// WindowLimiter is an in-process sliding-window limiter: at most Limit
// requests within any rolling Window. Waiters sleep until the oldest
// timestamp leaves the window; the mutex guards only the timestamp list and
// is never held across a suspension.
type WindowLimiter struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time

	metrics *Metrics

	// now is swappable for tests
	now func() time.Time
}

// NewWindowLimiter creates a limiter allowing limit requests per window.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:   limit,
		window:  window,
		metrics: NewMetrics(),
		now:     time.Now,
	}
}

// prune drops timestamps that have left the window. Caller holds mu.
func (l *WindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Allow consumes a slot if one is free.
func (l *WindowLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.stamps) >= l.limit {
		l.metrics.RecordDenied()
		return false
	}
	l.stamps = append(l.stamps, now)
	l.metrics.RecordConsumed()
	return true
}

// Wait blocks until a slot frees or ctx is done.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	start := l.now()
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			l.metrics.RecordConsumed()
			l.metrics.RecordWait(l.now().Sub(start))
			return nil
		}
		// Oldest timestamp leaves the window at stamps[0] + window.
		wakeAt := l.stamps[0].Add(l.window)
		l.mu.Unlock()
		l.metrics.RecordDenied()

		sleep := wakeAt.Sub(now)
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight returns how many request slots are currently occupied within the
// window. Exposed for the admin status surface.
func (l *WindowLimiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

// Limit returns the configured per-window request cap.
func (l *WindowLimiter) Limit() int {
	return l.limit
}

// Metrics returns the limiter's counters.
func (l *WindowLimiter) Metrics() *Metrics {
	return l.metrics
}
