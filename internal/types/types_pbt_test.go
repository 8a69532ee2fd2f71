package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genInstant generates instants across a few decades around the epoch of
// interest, at second precision.
func genInstant() gopter.Gen {
	min := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	max := time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	return gen.Int64Range(min, max).Map(func(secs int64) time.Time {
		return time.Unix(secs, 0).UTC()
	})
}

func TestDateRangeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("days are ascending midnights covering the range", prop.ForAll(
		func(a, b time.Time) bool {
			if !a.Before(b) {
				a, b = b, a.Add(time.Second)
			}
			r := DateRange{From: a, To: b}
			days := r.Days()
			if len(days) == 0 {
				return false
			}
			for i, d := range days {
				if !d.Equal(StartOfDay(d)) {
					return false
				}
				if i > 0 && !days[i-1].Before(d) {
					return false
				}
			}
			// First day holds From, last day holds the final covered instant.
			return days[0].Equal(StartOfDay(a)) && !days[len(days)-1].After(b)
		},
		genInstant(),
		genInstant(),
	))

	properties.Property("every instant in the range falls on a listed day", prop.ForAll(
		func(start time.Time, spanHours int, offsetMinutes int) bool {
			from := start
			to := from.Add(time.Duration(spanHours) * time.Hour)
			r := DateRange{From: from, To: to}

			probe := from.Add(time.Duration(offsetMinutes) * time.Minute)
			if !r.Contains(probe) {
				return true
			}
			for _, d := range r.Days() {
				if StartOfDay(probe).Equal(d) {
					return true
				}
			}
			return false
		},
		genInstant(),
		gen.IntRange(1, 24*40),
		gen.IntRange(0, 60*24*40),
	))

	properties.Property("day count matches the calendar span", prop.ForAll(
		func(start time.Time, spanDays int) bool {
			from := StartOfDay(start)
			to := from.AddDate(0, 0, spanDays)
			r := DateRange{From: from, To: to}
			return len(r.Days()) == spanDays
		},
		genInstant(),
		gen.IntRange(1, 500),
	))

	properties.Property("StartOfDay is idempotent", prop.ForAll(
		func(ts time.Time) bool {
			once := StartOfDay(ts)
			return once.Equal(StartOfDay(once))
		},
		genInstant(),
	))

	properties.TestingRun(t)
}
