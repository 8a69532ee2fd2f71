package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStateTerminal(t *testing.T) {
	assert.True(t, JobStateCompleted.Terminal())
	assert.True(t, JobStateFailed.Terminal())
	assert.False(t, JobStateIdle.Terminal())
	assert.False(t, JobStatePending.Terminal())
	assert.False(t, JobStateRunning.Terminal())
}

func TestDateRangeValid(t *testing.T) {
	now := time.Now().UTC()

	assert.True(t, DateRange{From: now.Add(-time.Hour), To: now}.Valid())
	assert.False(t, DateRange{From: now, To: now}.Valid(), "empty range")
	assert.False(t, DateRange{From: now, To: now.Add(-time.Hour)}.Valid(), "inverted range")
	assert.False(t, DateRange{To: now}.Valid(), "zero From")
	assert.False(t, DateRange{From: now}.Valid(), "zero To")
}

func TestDateRangeContains(t *testing.T) {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	r := DateRange{From: from, To: to}

	assert.True(t, r.Contains(from), "lower bound is inclusive")
	assert.True(t, r.Contains(from.Add(24*time.Hour)))
	assert.False(t, r.Contains(to), "upper bound is exclusive")
	assert.False(t, r.Contains(from.Add(-time.Nanosecond)))
}

func TestDateRangeDays(t *testing.T) {
	t.Run("whole days", func(t *testing.T) {
		r := DateRange{
			From: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC),
		}
		days := r.Days()
		assert.Len(t, days, 3)
		assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), days[0])
		assert.Equal(t, time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC), days[2])
	})

	t.Run("partial first day is included", func(t *testing.T) {
		r := DateRange{
			From: time.Date(2026, 8, 1, 23, 30, 0, 0, time.UTC),
			To:   time.Date(2026, 8, 2, 1, 0, 0, 0, time.UTC),
		}
		days := r.Days()
		assert.Len(t, days, 2)
		assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), days[0])
	})

	t.Run("month boundary", func(t *testing.T) {
		r := DateRange{
			From: time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
		}
		days := r.Days()
		assert.Len(t, days, 3)
		assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), days[1])
		assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), days[2])
	})

	t.Run("invalid range yields nothing", func(t *testing.T) {
		assert.Nil(t, DateRange{}.Days())
	})
}

func TestStartOfDay(t *testing.T) {
	in := time.Date(2026, 8, 30, 17, 42, 13, 999, time.FixedZone("CEST", 2*3600))
	got := StartOfDay(in)

	assert.Equal(t, time.UTC, got.Location())
	// 17:42 CEST is 15:42 UTC, still the 30th.
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), got)
}

func TestHorizonStart(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC), HorizonStart(now, 6))
	assert.Equal(t, time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC), HorizonStart(now, 12))

	// Month-end overflow follows time.AddDate normalization: Aug 31 minus
	// six months lands on Mar 3, not Feb 28.
	eom := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), HorizonStart(eom, 6))
}
