package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/storage"
	"github.com/weather-collector/internal/types"
)

// CoverageSource reads per-location stored coverage from the observation store.
type CoverageSource interface {
	EarliestPerLocation(ctx context.Context) ([]storage.LocationCoverage, error)
}

// BackfillTracker derives backfill completeness from the data itself: the
// horizon is complete when every monitored location's earliest stored
// observation is at or before now minus the horizon. There is no separate
// progress table; the verdict is recomputed from the store on every call, so
// it survives restarts and external deletions for free.
type BackfillTracker struct {
	store         CoverageSource
	locations     LocationLister
	monitorCount  int
	horizonMonths int

	// now is swappable for tests.
	now func() time.Time
}

// NewBackfillTracker creates a new backfill tracker.
func NewBackfillTracker(store CoverageSource, locations LocationLister, monitorCount, horizonMonths int) *BackfillTracker {
	return &BackfillTracker{
		store:         store,
		locations:     locations,
		monitorCount:  monitorCount,
		horizonMonths: horizonMonths,
		now:           time.Now,
	}
}

// LocationBackfillStatus is one location's entry in the status report.
type LocationBackfillStatus struct {
	Location models.Location `json:"location"`
	Earliest *time.Time      `json:"earliest,omitempty"`
	// GapDays is how many days of history are still missing before the
	// horizon; zero when complete.
	GapDays  int  `json:"gapDays"`
	Complete bool `json:"complete"`
}

// BackfillReport is the tracker's full status surface.
type BackfillReport struct {
	Horizon   time.Time                `json:"horizon"`
	Complete  bool                     `json:"complete"`
	Locations []LocationBackfillStatus `json:"locations"`
}

// IsComplete reports whether every monitored location's history reaches the
// horizon. A monitored location with no observations at all makes the horizon
// incomplete.
func (t *BackfillTracker) IsComplete(ctx context.Context) (bool, error) {
	report, err := t.StatusReport(ctx)
	if err != nil {
		return false, err
	}
	return report.Complete, nil
}

// StatusReport computes per-location coverage against the horizon.
func (t *BackfillTracker) StatusReport(ctx context.Context) (*BackfillReport, error) {
	monitored, err := t.locations.ListMonitored(ctx, t.monitorCount)
	if err != nil {
		return nil, err
	}

	coverage, err := t.store.EarliestPerLocation(ctx)
	if err != nil {
		return nil, err
	}

	earliestByKey := make(map[string]time.Time, len(coverage))
	for _, c := range coverage {
		earliestByKey[coverageKey(c.CountryCode, c.LocationID)] = c.Earliest
	}

	horizon := types.HorizonStart(t.now(), t.horizonMonths)
	report := &BackfillReport{
		Horizon:  horizon,
		Complete: true,
	}

	for _, loc := range monitored {
		status := LocationBackfillStatus{Location: loc}

		if earliest, ok := earliestByKey[coverageKey(loc.CountryCode, loc.ProviderID)]; ok {
			e := earliest
			status.Earliest = &e
			status.Complete = !earliest.After(horizon)
			if !status.Complete {
				// Partial days still need a backfill day, so round up.
				status.GapDays = int(math.Ceil(earliest.Sub(horizon).Hours() / 24))
			}
		} else {
			// Never observed: the whole horizon is missing.
			status.Complete = false
			status.GapDays = len(types.DateRange{From: horizon, To: t.now().UTC()}.Days())
		}

		if !status.Complete {
			report.Complete = false
		}
		report.Locations = append(report.Locations, status)
	}

	return report, nil
}

func coverageKey(countryCode string, locationID uint32) string {
	return fmt.Sprintf("%s:%d", countryCode, locationID)
}
