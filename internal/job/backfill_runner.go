// Package job implements the one-time historical backfill run.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weather-collector/internal/adapter"
	apperrors "github.com/weather-collector/internal/errors"
	"github.com/weather-collector/internal/logging"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/ratelimit"
	"github.com/weather-collector/internal/service"
	"github.com/weather-collector/internal/storage"
	"github.com/weather-collector/internal/types"
)

// HistoryFetcher is the adapter surface the backfill needs.
type HistoryFetcher interface {
	FetchDayBatch(ctx context.Context, locations []models.Location, day time.Time, maxConcurrent int) []adapter.HistoryResult
}

// ObservationWriter is the store surface the backfill needs.
type ObservationWriter interface {
	UpsertBatch(ctx context.Context, observations []*models.WeatherObservation) (*storage.UpsertResult, error)
}

// StatusReporter derives which locations still miss history.
type StatusReporter interface {
	StatusReport(ctx context.Context) (*service.BackfillReport, error)
}

// maxConsecutiveFailedDays aborts the run when no location yields data for
// this many days in a row; a single location failing, or a sparse day, never
// stops the walk.
const maxConsecutiveFailedDays = 3

// BackfillRunner walks the missing horizon one UTC day at a time and commits
// per day, so cancellation or failure leaves every finished day in place.
// Progress is never persisted: on the next run the status report re-derives
// what is still missing from the store itself.
type BackfillRunner struct {
	fetcher       HistoryFetcher
	store         ObservationWriter
	tracker       StatusReporter
	pacing        *ratelimit.PacingController
	maxConcurrent int

	mu     sync.Mutex
	status BackfillStatus
}

// BackfillStatus is the runner's observable progress.
type BackfillStatus struct {
	ID          string         `json:"id"`
	State       types.JobState `json:"state"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	DaysTotal   int            `json:"daysTotal"`
	DaysDone    int            `json:"daysDone"`
	CurrentDay  string         `json:"currentDay,omitempty"`
	Written     int            `json:"written"`
	LastError   string         `json:"lastError,omitempty"`
}

// NewBackfillRunner creates a runner in the Pending state.
func NewBackfillRunner(
	fetcher HistoryFetcher,
	store ObservationWriter,
	tracker StatusReporter,
	pacing *ratelimit.PacingController,
	maxConcurrent int,
) *BackfillRunner {
	if pacing == nil {
		pacing, _ = ratelimit.NewPacingController(nil)
	}
	return &BackfillRunner{
		fetcher:       fetcher,
		store:         store,
		tracker:       tracker,
		pacing:        pacing,
		maxConcurrent: maxConcurrent,
		status: BackfillStatus{
			ID:    uuid.New().String(),
			State: types.JobStatePending,
		},
	}
}

// Status returns a copy of the runner's progress.
func (r *BackfillRunner) Status() BackfillStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Run executes the backfill. It consults the status report for the missing
// per-location ranges, then walks the union of missing days ascending; each
// day fetches only the locations that still lack it.
func (r *BackfillRunner) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).WithField("backfillId", r.Status().ID)
	ctx = logging.IntoContext(ctx, logger)

	report, err := r.tracker.StatusReport(ctx)
	if err != nil {
		r.fail(err)
		return err
	}
	if report.Complete {
		logger.Info("Backfill horizon already complete, nothing to do")
		r.complete()
		return nil
	}

	// earliest stored instant per location; zero time means nothing stored,
	// so the whole horizon is missing.
	type gap struct {
		location models.Location
		before   time.Time
	}
	today := types.StartOfDay(time.Now().UTC())
	var gaps []gap
	for _, loc := range report.Locations {
		if loc.Complete {
			continue
		}
		before := today.AddDate(0, 0, 1)
		if loc.Earliest != nil {
			before = *loc.Earliest
		}
		gaps = append(gaps, gap{location: loc.Location, before: before})
	}

	days := types.DateRange{From: report.Horizon, To: today.AddDate(0, 0, 1)}.Days()
	r.start(len(days))

	logger.WithFields(map[string]interface{}{
		"locations": len(gaps),
		"days":      len(days),
		"horizon":   report.Horizon,
	}).Info("Starting historical backfill")

	consecutiveFailedDays := 0
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			// Committed days stay; the next run resumes from the store.
			logger.WithField("day", day.Format("2006-01-02")).
				Warn("Backfill cancelled, keeping committed days")
			r.fail(err)
			return err
		}

		var needed []models.Location
		for _, g := range gaps {
			if day.Before(g.before) {
				needed = append(needed, g.location)
			}
		}
		if len(needed) == 0 {
			r.advance()
			continue
		}

		r.setCurrentDay(day)
		results := r.fetcher.FetchDayBatch(ctx, needed, day, r.maxConcurrent)

		var observations []*models.WeatherObservation
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
				logger.WithError(res.Err).WithFields(map[string]interface{}{
					"location": res.Location.Name,
					"day":      day.Format("2006-01-02"),
				}).Warn("Failed to backfill day for location")
				continue
			}
			observations = append(observations, res.Observations...)
		}

		if len(observations) > 0 {
			result, err := r.store.UpsertBatch(ctx, observations)
			if err != nil {
				r.fail(err)
				return err
			}
			r.addWritten(result.Written)
		}

		if failed == len(results) {
			consecutiveFailedDays++
			r.pacing.RecordFailure()
			if consecutiveFailedDays >= maxConsecutiveFailedDays {
				err := apperrors.NewSchedulingError("backfill",
					fmt.Sprintf("backfill aborted after %d consecutive failed days", consecutiveFailedDays))
				r.fail(err)
				return err
			}
		} else {
			consecutiveFailedDays = 0
			r.pacing.RecordSuccess()
		}

		r.advance()

		// Pace between days so backfill never starves the recurring job.
		select {
		case <-time.After(r.pacing.Delay()):
		case <-ctx.Done():
			r.fail(ctx.Err())
			return ctx.Err()
		}
	}

	status := r.Status()
	logger.WithFields(map[string]interface{}{
		"days":    status.DaysDone,
		"written": status.Written,
	}).Info("Historical backfill completed")
	r.complete()
	return nil
}

func (r *BackfillRunner) start(daysTotal int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.status.State = types.JobStateRunning
	r.status.StartedAt = &now
	r.status.DaysTotal = daysTotal
}

func (r *BackfillRunner) setCurrentDay(day time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.CurrentDay = day.Format("2006-01-02")
}

func (r *BackfillRunner) advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.DaysDone++
}

func (r *BackfillRunner) addWritten(written int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Written += written
}

func (r *BackfillRunner) complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.status.State = types.JobStateCompleted
	r.status.CompletedAt = &now
	r.status.CurrentDay = ""
}

func (r *BackfillRunner) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.status.State = types.JobStateFailed
	r.status.CompletedAt = &now
	if err != nil {
		r.status.LastError = err.Error()
	}
}
