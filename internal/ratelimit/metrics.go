package ratelimit

import (
	"sync/atomic"
	"time"
)

// Metrics tracks limiter activity with atomic counters. The counters are the
// only mutable rate-limit state shared between jobs, so they are never
// guarded by a coarse lock.
type Metrics struct {
	consumed  atomic.Int64
	denied    atomic.Int64
	waitNanos atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Consumed  int64         `json:"consumed"`
	Denied    int64         `json:"denied"`
	TotalWait time.Duration `json:"totalWait"`
}

// NewMetrics creates a zeroed metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordConsumed counts a granted request slot.
func (m *Metrics) RecordConsumed() {
	m.consumed.Add(1)
}

// RecordDenied counts a denied probe (the caller will wait and retry).
func (m *Metrics) RecordDenied() {
	m.denied.Add(1)
}

// RecordWait accumulates time spent waiting for a slot.
func (m *Metrics) RecordWait(d time.Duration) {
	if d > 0 {
		m.waitNanos.Add(int64(d))
	}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Consumed:  m.consumed.Load(),
		Denied:    m.denied.Load(),
		TotalWait: time.Duration(m.waitNanos.Load()),
	}
}
