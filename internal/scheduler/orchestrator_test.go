package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weather-collector/internal/job"
	"github.com/weather-collector/internal/service"
	"github.com/weather-collector/internal/types"
)

type fakeCollector struct {
	mu       sync.Mutex
	runs     int
	blockFor time.Duration
	err      error
}

func (f *fakeCollector) RunCurrentTick(ctx context.Context) (*service.TickSummary, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.blockFor > 0 {
		select {
		case <-time.After(f.blockFor):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &service.TickSummary{Written: 3}, nil
}

func (f *fakeCollector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeChecker struct {
	complete bool
	err      error
}

func (f *fakeChecker) IsComplete(ctx context.Context) (bool, error) {
	return f.complete, f.err
}

// fakeBackfill finishes immediately with the configured error.
type fakeBackfill struct {
	mu      sync.Mutex
	status  job.BackfillStatus
	runErr  error
	started chan struct{}
}

func newFakeBackfill(runErr error) *fakeBackfill {
	return &fakeBackfill{
		status:  job.BackfillStatus{ID: "test", State: types.JobStatePending},
		runErr:  runErr,
		started: make(chan struct{}),
	}
}

func (f *fakeBackfill) Run(ctx context.Context) error {
	f.mu.Lock()
	f.status.State = types.JobStateRunning
	f.mu.Unlock()
	close(f.started)

	if err := ctx.Err(); err != nil {
		f.setState(types.JobStateFailed)
		return err
	}
	if f.runErr != nil {
		f.setState(types.JobStateFailed)
		return f.runErr
	}
	f.setState(types.JobStateCompleted)
	return nil
}

func (f *fakeBackfill) setState(s types.JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.State = s
}

func (f *fakeBackfill) Status() job.BackfillStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func testConfig(collector CollectorRunner, checker CompletenessChecker, factory func() BackfillJob) Config {
	return Config{
		Collector:          collector,
		Tracker:            checker,
		NewBackfill:        factory,
		Interval:           time.Hour,
		BackfillStartDelay: time.Millisecond,
		BackfillRetryDelay: 5 * time.Millisecond,
	}
}

func startOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)
	return o
}

func TestNewOrchestratorValidation(t *testing.T) {
	_, err := NewOrchestrator(Config{})
	assert.Error(t, err)

	_, err = NewOrchestrator(Config{
		Collector:   &fakeCollector{},
		Tracker:     &fakeChecker{},
		NewBackfill: func() BackfillJob { return newFakeBackfill(nil) },
	})
	assert.Error(t, err, "interval is required")
}

func TestTriggerUpdateBeforeStart(t *testing.T) {
	o, err := NewOrchestrator(testConfig(&fakeCollector{}, &fakeChecker{complete: true}, func() BackfillJob {
		return newFakeBackfill(nil)
	}))
	require.NoError(t, err)

	assert.Error(t, o.TriggerUpdate(types.UpdateKindCurrent), "no work runs before Start")
	assert.Error(t, o.TriggerUpdate(types.UpdateKindBackfill))
}

func TestTriggerUpdateRunsTick(t *testing.T) {
	collector := &fakeCollector{}
	o := startOrchestrator(t, testConfig(collector, &fakeChecker{complete: true}, func() BackfillJob {
		return newFakeBackfill(nil)
	}))

	require.NoError(t, o.TriggerUpdate(types.UpdateKindCurrent))

	assert.Eventually(t, func() bool { return collector.count() == 1 },
		time.Second, 5*time.Millisecond)

	history := o.History(10)
	require.NotEmpty(t, history)
	assert.Equal(t, JobCollectCurrent, history[0].Job)
	assert.Equal(t, "ok", history[0].Outcome)
	assert.Equal(t, 3, history[0].Written)
}

func TestTickCoalescing(t *testing.T) {
	collector := &fakeCollector{blockFor: 200 * time.Millisecond}
	o := startOrchestrator(t, testConfig(collector, &fakeChecker{complete: true}, func() BackfillJob {
		return newFakeBackfill(nil)
	}))

	require.NoError(t, o.TriggerUpdate(types.UpdateKindCurrent))
	assert.Eventually(t, func() bool { return o.tickInFlight.Load() },
		time.Second, time.Millisecond)

	// A trigger while the tick runs is refused, not queued.
	err := o.TriggerUpdate(types.UpdateKindCurrent)
	assert.Error(t, err)

	// The cron path skips silently and counts it.
	o.collectTick()
	status := o.Status()
	for _, js := range status.Jobs {
		if js.Name == JobCollectCurrent {
			assert.Equal(t, int64(1), js.Skips)
		}
	}

	assert.Eventually(t, func() bool { return !o.tickInFlight.Load() },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, collector.count(), "the overlapping trigger never ran")
}

func TestStartupBackfillWhenIncomplete(t *testing.T) {
	bf := newFakeBackfill(nil)
	o := startOrchestrator(t, testConfig(&fakeCollector{}, &fakeChecker{complete: false}, func() BackfillJob {
		return bf
	}))

	select {
	case <-bf.started:
	case <-time.After(time.Second):
		t.Fatal("startup backfill never started")
	}

	assert.Eventually(t, func() bool {
		return bf.Status().State == types.JobStateCompleted
	}, time.Second, 5*time.Millisecond)

	status := o.Status()
	require.NotNil(t, status.Backfill)
	assert.Equal(t, types.JobStateCompleted, status.Backfill.State)
}

func TestNoBackfillWhenComplete(t *testing.T) {
	var created atomic.Int32
	o := startOrchestrator(t, testConfig(&fakeCollector{}, &fakeChecker{complete: true}, func() BackfillJob {
		created.Add(1)
		return newFakeBackfill(nil)
	}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), created.Load(), "a complete horizon schedules no backfill")
	assert.Nil(t, o.Status().Backfill)
}

func TestBackfillRetriesOnceThenAbandons(t *testing.T) {
	var created atomic.Int32
	o := startOrchestrator(t, testConfig(&fakeCollector{}, &fakeChecker{complete: false}, func() BackfillJob {
		created.Add(1)
		return newFakeBackfill(errors.New("provider down"))
	}))

	assert.Eventually(t, func() bool { return created.Load() == 2 },
		time.Second, 5*time.Millisecond, "one retry after the first failure")

	// Give a potential third attempt time to (incorrectly) appear.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), created.Load(), "after the retry fails the job is abandoned")

	status := o.Status()
	require.NotNil(t, status.Backfill)
	assert.Equal(t, types.JobStateFailed, status.Backfill.State)
}

func TestManualBackfillConflictsWithActive(t *testing.T) {
	bf := newFakeBackfill(nil)
	slow := make(chan struct{})
	blocking := &blockingBackfill{inner: bf, release: slow}

	o := startOrchestrator(t, testConfig(&fakeCollector{}, &fakeChecker{complete: false}, func() BackfillJob {
		return blocking
	}))

	select {
	case <-bf.started:
	case <-time.After(time.Second):
		t.Fatal("backfill never started")
	}

	err := o.TriggerUpdate(types.UpdateKindBackfill)
	assert.Error(t, err, "only one backfill may be active")

	close(slow)
}

// blockingBackfill holds Run open until released so conflict paths are testable.
type blockingBackfill struct {
	inner   *fakeBackfill
	release chan struct{}
}

func (b *blockingBackfill) Run(ctx context.Context) error {
	b.inner.mu.Lock()
	b.inner.status.State = types.JobStateRunning
	b.inner.mu.Unlock()
	close(b.inner.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		b.inner.setState(types.JobStateFailed)
		return ctx.Err()
	}
	b.inner.setState(types.JobStateCompleted)
	return nil
}

func (b *blockingBackfill) Status() job.BackfillStatus {
	return b.inner.Status()
}

func TestCancelBackfill(t *testing.T) {
	bf := newFakeBackfill(nil)
	blocking := &blockingBackfill{inner: bf, release: make(chan struct{})}

	o := startOrchestrator(t, testConfig(&fakeCollector{}, &fakeChecker{complete: false}, func() BackfillJob {
		return blocking
	}))

	select {
	case <-bf.started:
	case <-time.After(time.Second):
		t.Fatal("backfill never started")
	}

	require.NoError(t, o.CancelBackfill())

	assert.Eventually(t, func() bool {
		return bf.Status().State == types.JobStateFailed
	}, time.Second, 5*time.Millisecond)

	// Nothing left to cancel afterwards.
	assert.Error(t, o.CancelBackfill())
}

func TestHistoryRingIsBounded(t *testing.T) {
	o, err := NewOrchestrator(testConfig(&fakeCollector{}, &fakeChecker{complete: true}, func() BackfillJob {
		return newFakeBackfill(nil)
	}))
	require.NoError(t, err)

	for i := 0; i < historyCap+50; i++ {
		o.appendHistory(HistoryEntry{Job: JobCollectCurrent, StartedAt: time.Now().UTC(), Outcome: "ok"})
	}
	assert.Len(t, o.History(0), historyCap)
}

func TestCleanupPrunesOldHistory(t *testing.T) {
	o := startOrchestrator(t, testConfig(&fakeCollector{}, &fakeChecker{complete: true}, func() BackfillJob {
		return newFakeBackfill(nil)
	}))

	o.appendHistory(HistoryEntry{Job: JobCollectCurrent, StartedAt: time.Now().UTC().Add(-8 * 24 * time.Hour), Outcome: "ok"})
	o.appendHistory(HistoryEntry{Job: JobCollectCurrent, StartedAt: time.Now().UTC(), Outcome: "ok"})

	o.runCleanup()

	history := o.History(0)
	// The stale entry is gone; the fresh one plus the cleanup's own entry remain.
	for _, entry := range history {
		assert.True(t, entry.StartedAt.After(time.Now().UTC().Add(-historyRetention)))
	}
}
