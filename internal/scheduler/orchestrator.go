// Package scheduler owns the job calendar: the recurring collection tick,
// the one-time backfill lifecycle and the housekeeping crons.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/weather-collector/internal/errors"
	"github.com/weather-collector/internal/job"
	"github.com/weather-collector/internal/logging"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/service"
	"github.com/weather-collector/internal/types"
)

// Job names as surfaced by the status endpoints.
const (
	JobCollectCurrent = "collect_current"
	JobBackfill       = "backfill"
	JobHistoryCleanup = "history_cleanup"
	JobStatsReport    = "stats_report"
)

// historyCap bounds the in-memory run history ring.
const historyCap = 1000

// historyRetention is how far back the daily cleanup keeps run history.
const historyRetention = 7 * 24 * time.Hour

// CollectorRunner executes one collection tick.
type CollectorRunner interface {
	RunCurrentTick(ctx context.Context) (*service.TickSummary, error)
}

// CompletenessChecker decides at startup whether a backfill is needed.
type CompletenessChecker interface {
	IsComplete(ctx context.Context) (bool, error)
}

// BackfillJob is one backfill run. The factory hands out a fresh job per
// attempt so a retry never inherits a failed run's state.
type BackfillJob interface {
	Run(ctx context.Context) error
	Status() job.BackfillStatus
}

// StatsSource feeds the weekly stats report. Optional.
type StatsSource interface {
	Stats(ctx context.Context) (*models.StoreStats, error)
}

// Config wires an Orchestrator.
type Config struct {
	Collector   CollectorRunner
	Tracker     CompletenessChecker
	NewBackfill func() BackfillJob
	Stats       StatsSource // optional

	Interval           time.Duration
	CleanupCron        string
	StatsCron          string
	BackfillStartDelay time.Duration
	BackfillRetryDelay time.Duration
}

// JobStatus is the public per-job state.
type JobStatus struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	State     types.JobState `json:"state"`
	NextRun   *time.Time     `json:"nextRun,omitempty"`
	LastRun   *time.Time     `json:"lastRun,omitempty"`
	LastError string         `json:"lastError,omitempty"`
	Runs      int64          `json:"runs"`
	Skips     int64          `json:"skips"`
}

// HistoryEntry is one finished run in the bounded history ring.
type HistoryEntry struct {
	Job       string        `json:"job"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome"` // ok | error | skipped
	Error     string        `json:"error,omitempty"`
	Written   int           `json:"written,omitempty"`
	Failures  int           `json:"failures,omitempty"`
}

// Orchestrator drives all scheduled work. It keeps no durable state: on
// restart the backfill decision is re-derived from the tracker, which reads
// the store.
type Orchestrator struct {
	cfg  Config
	cron *cron.Cron

	collectEntry cron.EntryID
	tickInFlight atomic.Bool

	mu       sync.Mutex
	jobs     map[string]*JobStatus
	history  []HistoryEntry
	backfill *backfillSlot

	baseCtx context.Context
	stop    context.CancelFunc
	started bool
}

// backfillSlot tracks the single allowed active backfill and its retry budget.
type backfillSlot struct {
	job     BackfillJob
	cancel  context.CancelFunc
	attempt int
}

// NewOrchestrator creates an orchestrator; Start makes it live.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Collector == nil {
		return nil, fmt.Errorf("collector cannot be nil")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("tracker cannot be nil")
	}
	if cfg.NewBackfill == nil {
		return nil, fmt.Errorf("backfill factory cannot be nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	o := &Orchestrator{
		cfg:  cfg,
		cron: cron.New(cron.WithLocation(time.UTC)),
		jobs: make(map[string]*JobStatus),
	}
	o.jobs[JobCollectCurrent] = &JobStatus{ID: "job-collect", Name: JobCollectCurrent, State: types.JobStateIdle}
	o.jobs[JobHistoryCleanup] = &JobStatus{ID: "job-cleanup", Name: JobHistoryCleanup, State: types.JobStateIdle}
	o.jobs[JobStatsReport] = &JobStatus{ID: "job-stats", Name: JobStatsReport, State: types.JobStateIdle}
	return o, nil
}

// Start registers the cron entries and kicks off the startup backfill check.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return apperrors.NewSchedulingError("orchestrator", "already started")
	}
	o.started = true
	o.baseCtx, o.stop = context.WithCancel(ctx)
	o.mu.Unlock()

	logger := logging.FromContext(ctx)

	entry, err := o.cron.AddFunc(fmt.Sprintf("@every %s", o.cfg.Interval), o.collectTick)
	if err != nil {
		return apperrors.NewSchedulingError(JobCollectCurrent, err.Error())
	}
	o.collectEntry = entry

	if o.cfg.CleanupCron != "" {
		if _, err := o.cron.AddFunc(o.cfg.CleanupCron, o.runCleanup); err != nil {
			return apperrors.NewSchedulingError(JobHistoryCleanup, err.Error())
		}
	}
	if o.cfg.StatsCron != "" && o.cfg.Stats != nil {
		if _, err := o.cron.AddFunc(o.cfg.StatsCron, o.runStatsReport); err != nil {
			return apperrors.NewSchedulingError(JobStatsReport, err.Error())
		}
	}

	o.cron.Start()

	logger.WithFields(map[string]interface{}{
		"interval":    o.cfg.Interval,
		"cleanupCron": o.cfg.CleanupCron,
		"statsCron":   o.cfg.StatsCron,
	}).Info("Scheduler started")

	go o.bootstrapBackfill()

	return nil
}

// Stop halts the calendar and cancels any active backfill. Waits for a
// running cron invocation to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	stop := o.stop
	slot := o.backfill
	o.mu.Unlock()

	if slot != nil && slot.cancel != nil {
		slot.cancel()
	}
	if stop != nil {
		stop()
	}
	<-o.cron.Stop().Done()
}

// TriggerUpdate runs a pipeline on demand. Current ticks run asynchronously;
// a tick or backfill already in flight is a conflict, not a queue entry.
func (o *Orchestrator) TriggerUpdate(kind types.UpdateKind) error {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		// The run contexts derive from Start's ctx; without it there is
		// nothing to run work under.
		return apperrors.NewSchedulingError("orchestrator", "not started")
	}

	switch kind {
	case types.UpdateKindCurrent:
		if o.tickInFlight.Load() {
			return apperrors.NewSchedulingError(JobCollectCurrent, "collection tick already running")
		}
		go o.collectTick()
		return nil
	case types.UpdateKindBackfill:
		return o.startBackfill(1)
	default:
		return apperrors.NewValidationError("type", fmt.Sprintf("unknown update kind %q", kind))
	}
}

// CancelBackfill cancels the active backfill run.
func (o *Orchestrator) CancelBackfill() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.backfill == nil || o.backfill.job.Status().State.Terminal() {
		return apperrors.NewSchedulingError(JobBackfill, "no active backfill to cancel")
	}
	o.backfill.cancel()
	return nil
}

// Status reports all jobs plus the backfill runner's own progress.
type Status struct {
	Jobs     []JobStatus         `json:"jobs"`
	Backfill *job.BackfillStatus `json:"backfill,omitempty"`
}

// Status returns a snapshot of every job.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	var status Status
	for _, name := range []string{JobCollectCurrent, JobHistoryCleanup, JobStatsReport} {
		js := *o.jobs[name]
		if name == JobCollectCurrent && o.started {
			next := o.cron.Entry(o.collectEntry).Next
			if !next.IsZero() {
				js.NextRun = &next
			}
		}
		status.Jobs = append(status.Jobs, js)
	}

	if o.backfill != nil {
		bs := o.backfill.job.Status()
		status.Backfill = &bs
	}

	return status
}

// History returns the most recent finished runs, newest first, capped at limit.
func (o *Orchestrator) History(limit int) []HistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	if limit <= 0 || limit > len(o.history) {
		limit = len(o.history)
	}
	out := make([]HistoryEntry, 0, limit)
	for i := len(o.history) - 1; i >= len(o.history)-limit; i-- {
		out = append(out, o.history[i])
	}
	return out
}

// collectTick runs one collection pass. Overlapping triggers are skipped,
// never queued: by the time a skipped tick would run, its data is stale.
func (o *Orchestrator) collectTick() {
	logger := logging.FromContext(o.baseCtx)

	if !o.tickInFlight.CompareAndSwap(false, true) {
		logger.Warn("Skipping collection tick, previous tick still running")
		o.mu.Lock()
		o.jobs[JobCollectCurrent].Skips++
		o.mu.Unlock()
		o.appendHistory(HistoryEntry{
			Job:       JobCollectCurrent,
			StartedAt: time.Now().UTC(),
			Outcome:   "skipped",
		})
		return
	}
	defer o.tickInFlight.Store(false)

	started := time.Now().UTC()
	o.setJobState(JobCollectCurrent, types.JobStateRunning)

	summary, err := o.cfg.Collector.RunCurrentTick(o.baseCtx)

	entry := HistoryEntry{
		Job:       JobCollectCurrent,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if err != nil {
		entry.Outcome = "error"
		entry.Error = err.Error()
		o.finishJob(JobCollectCurrent, started, err)
		logger.WithError(err).Error("Collection tick failed")
	} else {
		entry.Outcome = "ok"
		entry.Written = summary.Written
		entry.Failures = len(summary.Failures)
		o.finishJob(JobCollectCurrent, started, nil)
	}
	o.appendHistory(entry)
}

// bootstrapBackfill waits the configured delay, then starts a backfill only
// when the tracker says the horizon is incomplete.
func (o *Orchestrator) bootstrapBackfill() {
	logger := logging.FromContext(o.baseCtx)

	select {
	case <-time.After(o.cfg.BackfillStartDelay):
	case <-o.baseCtx.Done():
		return
	}

	complete, err := o.cfg.Tracker.IsComplete(o.baseCtx)
	if err != nil {
		logger.WithError(err).Error("Failed to evaluate backfill completeness at startup")
		return
	}
	if complete {
		logger.Info("Historical horizon complete, no backfill needed")
		return
	}

	if err := o.startBackfill(1); err != nil {
		logger.WithError(err).Error("Failed to start startup backfill")
	}
}

// startBackfill launches attempt n of a backfill. Only one backfill may be
// active; a non-terminal slot is a conflict.
func (o *Orchestrator) startBackfill(attempt int) error {
	o.mu.Lock()
	if o.backfill != nil && !o.backfill.job.Status().State.Terminal() {
		o.mu.Unlock()
		return apperrors.NewSchedulingError(JobBackfill, "a backfill is already active")
	}

	runner := o.cfg.NewBackfill()
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.backfill = &backfillSlot{job: runner, cancel: cancel, attempt: attempt}
	o.mu.Unlock()

	go o.runBackfill(ctx, runner, attempt)
	return nil
}

func (o *Orchestrator) runBackfill(ctx context.Context, runner BackfillJob, attempt int) {
	logger := logging.FromContext(o.baseCtx).WithField("attempt", attempt)
	started := time.Now().UTC()

	err := runner.Run(ctx)

	entry := HistoryEntry{
		Job:       JobBackfill,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if err == nil {
		entry.Outcome = "ok"
		entry.Written = runner.Status().Written
		o.appendHistory(entry)
		logger.Info("Backfill finished")
		return
	}

	entry.Outcome = "error"
	entry.Error = err.Error()
	o.appendHistory(entry)

	if ctx.Err() != nil {
		logger.Info("Backfill cancelled")
		return
	}

	// One retry, then the failure stands until the next restart re-derives
	// the need from the store.
	if attempt >= 2 {
		logger.WithError(err).Error("Backfill failed twice, abandoning until next restart")
		return
	}

	logger.WithError(err).WithField("retryIn", o.cfg.BackfillRetryDelay).
		Warn("Backfill failed, scheduling one retry")

	select {
	case <-time.After(o.cfg.BackfillRetryDelay):
	case <-o.baseCtx.Done():
		return
	}

	if err := o.startBackfill(attempt + 1); err != nil {
		logger.WithError(err).Error("Failed to start backfill retry")
	}
}

// runCleanup prunes the run-history ring.
func (o *Orchestrator) runCleanup() {
	started := time.Now().UTC()
	o.setJobState(JobHistoryCleanup, types.JobStateRunning)

	cutoff := started.Add(-historyRetention)
	o.mu.Lock()
	kept := o.history[:0]
	for _, entry := range o.history {
		if entry.StartedAt.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	pruned := len(o.history) - len(kept)
	o.history = kept
	o.mu.Unlock()

	o.finishJob(JobHistoryCleanup, started, nil)
	o.appendHistory(HistoryEntry{
		Job:       JobHistoryCleanup,
		StartedAt: started,
		Duration:  time.Since(started),
		Outcome:   "ok",
		Written:   pruned,
	})

	logging.FromContext(o.baseCtx).WithField("pruned", pruned).Info("Pruned job history")
}

// runStatsReport logs the weekly store stats.
func (o *Orchestrator) runStatsReport() {
	logger := logging.FromContext(o.baseCtx)
	started := time.Now().UTC()
	o.setJobState(JobStatsReport, types.JobStateRunning)

	stats, err := o.cfg.Stats.Stats(o.baseCtx)
	o.finishJob(JobStatsReport, started, err)

	entry := HistoryEntry{
		Job:       JobStatsReport,
		StartedAt: started,
		Duration:  time.Since(started),
		Outcome:   "ok",
	}
	if err != nil {
		entry.Outcome = "error"
		entry.Error = err.Error()
		o.appendHistory(entry)
		logger.WithError(err).Error("Failed to collect store stats")
		return
	}
	o.appendHistory(entry)

	logger.WithFields(map[string]interface{}{
		"observations": stats.TotalObservations,
		"locations":    stats.Locations,
		"uniqueDays":   stats.UniqueDays,
	}).Info("Weekly store stats")
}

func (o *Orchestrator) setJobState(name string, state types.JobState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs[name].State = state
}

func (o *Orchestrator) finishJob(name string, started time.Time, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	js := o.jobs[name]
	js.State = types.JobStateIdle
	js.LastRun = &started
	js.Runs++
	if err != nil {
		js.LastError = err.Error()
	} else {
		js.LastError = ""
	}
}

func (o *Orchestrator) appendHistory(entry HistoryEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, entry)
	if len(o.history) > historyCap {
		o.history = o.history[len(o.history)-historyCap:]
	}
}
