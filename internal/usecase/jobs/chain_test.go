package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/jobrun"
	"searchstats/internal/domain/report"
	"searchstats/internal/domain/searchquery"
	"searchstats/internal/pkg/timeutil"
	"searchstats/internal/usecase/ingest"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	content string
}

func (f *fakeSource) DownloadReport(ctx context.Context, period searchquery.ReportPeriod) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		if len(f.errs) > 1 {
			f.errs = f.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return io.NopCloser(strings.NewReader(f.content)), nil
}

type fakeIngester struct {
	calls  []string
	result ingest.Result
	err    error
}

func (f *fakeIngester) Ingest(ctx context.Context, path string, day time.Time, period searchquery.ReportPeriod) (ingest.Result, error) {
	f.calls = append(f.calls, path)
	if f.err == nil && f.result.Batches == 0 {
		return ingest.Result{Batches: 1, Rows: 1, Complete: true}, nil
	}
	return f.result, f.err
}

type fakeStats struct {
	prepared   []time.Time
	aggregated []time.Time
}

func (f *fakeStats) PrepareDay(ctx context.Context, day time.Time) error {
	f.prepared = append(f.prepared, day)
	return nil
}

func (f *fakeStats) AggregateDay(ctx context.Context, day time.Time) (dailystat.DailyTotal, error) {
	f.aggregated = append(f.aggregated, day)
	return dailystat.DailyTotal{Day: day}, nil
}

type fakeLocker struct {
	busy  bool
	held  map[string]bool
	taken []string
}

func (f *fakeLocker) TryLock(ctx context.Context, name string) (bool, func(context.Context) error, error) {
	if f.busy || f.held[name] {
		return false, nil, nil
	}
	if f.held == nil {
		f.held = map[string]bool{}
	}
	f.held[name] = true
	f.taken = append(f.taken, name)
	return true, func(context.Context) error {
		delete(f.held, name)
		return nil
	}, nil
}

type memTracker struct {
	mu   sync.Mutex
	runs map[string]jobrun.Run
}

func newMemTracker() *memTracker {
	return &memTracker{runs: map[string]jobrun.Run{}}
}

func (m *memTracker) Get(ctx context.Context, id string) (*jobrun.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, jobrun.ErrNotFound
	}
	return &run, nil
}

func (m *memTracker) Save(ctx context.Context, run *jobrun.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

type stageCounter struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (s *stageCounter) StageRun(stage, outcome string, _ float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		s.outcomes = map[string]int{}
	}
	s.outcomes[stage+"/"+outcome]++
}

type harness struct {
	chain    *Chain
	queue    *SyncQueue
	source   *fakeSource
	ingester *fakeIngester
	stats    *fakeStats
	locker   *fakeLocker
	tracker  *memTracker
	metrics  *stageCounter
	dir      string
}

var runDay = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, attempts uint) *harness {
	t.Helper()
	h := &harness{
		queue:    NewSyncQueue(),
		source:   &fakeSource{content: "shoes,5\n"},
		ingester: &fakeIngester{},
		stats:    &fakeStats{},
		locker:   &fakeLocker{},
		tracker:  newMemTracker(),
		metrics:  &stageCounter{},
		dir:      t.TempDir(),
	}
	policies := map[jobrun.Stage]RetryPolicy{}
	for _, stage := range jobrun.Stages {
		policies[stage] = RetryPolicy{MaxAttempts: attempts}
	}
	h.chain = NewChain(Deps{
		Source:   h.source,
		Pipeline: h.ingester,
		Stats:    h.stats,
		Locker:   h.locker,
		Tracker:  h.tracker,
		Metrics:  h.metrics,
	}, h.queue, Config{ReportDir: h.dir, Policies: policies})
	h.queue.Bind(h.chain)
	return h
}

func (h *harness) run(t *testing.T, runID string) jobrun.Run {
	t.Helper()
	run, err := h.tracker.Get(context.Background(), runID)
	require.NoError(t, err)
	return *run
}

func TestChain_RunsAllStages(t *testing.T) {
	h := newHarness(t, 3)

	run, jobID, err := h.chain.Start(context.Background(), searchquery.PeriodOneWeek, runDay.Add(10*time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	path := report.Path(h.dir, runDay, searchquery.PeriodOneWeek)
	assert.FileExists(t, path)
	assert.Equal(t, []string{path}, h.ingester.calls)
	assert.Equal(t, []time.Time{runDay}, h.stats.prepared)
	assert.Equal(t, []time.Time{runDay}, h.stats.aggregated)
	assert.Equal(t, []string{"ingest:2024-01-01"}, h.locker.taken)
	assert.Empty(t, h.locker.held)

	stored := h.run(t, run.ID)
	assert.Equal(t, jobrun.StateAggregated, stored.State)
	assert.Equal(t, jobrun.StageAggregate, stored.Stage)
	assert.Equal(t, 1, h.metrics.outcomes["aggregate/success"])
}

func TestChain_AcquireReusesExistingReport(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	_, _, err := h.chain.Start(ctx, searchquery.PeriodOneWeek, runDay)
	require.NoError(t, err)
	_, _, err = h.chain.Start(ctx, searchquery.PeriodOneWeek, runDay)
	require.NoError(t, err)

	assert.Equal(t, 1, h.source.calls)
	assert.Len(t, h.ingester.calls, 2)
}

func TestChain_AcquireWritesGzipAtomically(t *testing.T) {
	h := newHarness(t, 3)
	_, _, err := h.chain.Start(context.Background(), searchquery.PeriodOneWeek, runDay)
	require.NoError(t, err)

	path := report.Path(h.dir, runDay, searchquery.PeriodOneWeek)
	r, err := ingest.OpenReport(path, 10)
	require.NoError(t, err)
	defer r.Close()
	b, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "shoes", b.Rows[0].Value)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestChain_UnauthorizedIsNotRetried(t *testing.T) {
	h := newHarness(t, 5)
	h.source.errs = []error{fmt.Errorf("status 401: %w", report.ErrUnauthorized)}

	run, _, err := h.chain.Start(context.Background(), searchquery.PeriodOneWeek, runDay)
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, h.source.calls)
	assert.Empty(t, h.ingester.calls)

	stored := h.run(t, run.ID)
	assert.Equal(t, jobrun.StateFailed, stored.State)
	assert.Equal(t, jobrun.StageAcquire, stored.Stage)
	assert.Contains(t, stored.LastError, "credentials")
	assert.Equal(t, 1, h.metrics.outcomes["acquire/failed"])
}

func TestChain_TransientAcquireExhaustsAttempts(t *testing.T) {
	h := newHarness(t, 3)
	h.source.errs = []error{errors.New("connection reset")}

	run, _, err := h.chain.Start(context.Background(), searchquery.PeriodOneWeek, runDay)
	require.Error(t, err)
	assert.Equal(t, 3, h.source.calls)

	stored := h.run(t, run.ID)
	assert.Equal(t, jobrun.StateFailed, stored.State)
	assert.Equal(t, 3, stored.Attempts)
	assert.Equal(t, 2, h.metrics.outcomes["acquire/retry"])
	assert.Equal(t, 1, h.metrics.outcomes["acquire/failed"])
}

func TestChain_TransientAcquireRecovers(t *testing.T) {
	h := newHarness(t, 3)
	h.source.errs = []error{errors.New("timeout"), nil}

	run, _, err := h.chain.Start(context.Background(), searchquery.PeriodOneWeek, runDay)
	require.NoError(t, err)
	assert.Equal(t, 2, h.source.calls)
	assert.Equal(t, jobrun.StateAggregated, h.run(t, run.ID).State)
}

func TestChain_SameDayIngestIsSerialized(t *testing.T) {
	h := newHarness(t, 2)
	h.locker.busy = true

	run, _, err := h.chain.Start(context.Background(), searchquery.PeriodOneWeek, runDay)
	require.ErrorIs(t, err, ErrDayLocked)
	assert.Empty(t, h.ingester.calls)

	stored := h.run(t, run.ID)
	assert.Equal(t, jobrun.StateFailed, stored.State)
	assert.Equal(t, jobrun.StageIngest, stored.Stage)
}

func TestChain_PartialIngestStillAggregates(t *testing.T) {
	h := newHarness(t, 3)
	h.ingester.result = ingest.Result{Batches: 3, Rows: 2000, FailedBatches: 1, Complete: true}
	h.ingester.err = &ingest.IngestError{Failures: []*ingest.BatchFailure{{Index: 1, FirstLine: 1001, Rows: 1000, Err: errors.New("boom")}}}

	run, _, err := h.chain.Start(context.Background(), searchquery.PeriodOneWeek, runDay)
	require.NoError(t, err)
	assert.Len(t, h.ingester.calls, 1)
	assert.Len(t, h.stats.aggregated, 1)
	assert.Equal(t, jobrun.StateAggregated, h.run(t, run.ID).State)
}

func TestChain_IncompleteIngestIsRetried(t *testing.T) {
	h := newHarness(t, 2)
	h.ingester.result = ingest.Result{Batches: 1, Rows: 1000}
	h.ingester.err = io.ErrUnexpectedEOF

	run, _, err := h.chain.Start(context.Background(), searchquery.PeriodOneWeek, runDay)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Len(t, h.ingester.calls, 2)
	assert.Empty(t, h.stats.aggregated)
	assert.Equal(t, jobrun.StateFailed, h.run(t, run.ID).State)
}

func TestChain_MissingReportIsNotRetried(t *testing.T) {
	h := newHarness(t, 3)
	h.ingester.err = fmt.Errorf("open report: %w", os.ErrNotExist)
	h.ingester.result = ingest.Result{}

	err := h.chain.Handle(context.Background(), Delivery{
		Stage:   jobrun.StageIngest,
		Payload: []byte(`{"run_id":"r1","report_path":"/missing","period":"one_week","day":"2024-01-01T00:00:00Z"}`),
		Attempt: 1,
	})
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
}

func TestChain_UnreadableReportIsNotRetried(t *testing.T) {
	h := newHarness(t, 3)
	h.ingester.err = fmt.Errorf("open report gzip: %w: %w", ingest.ErrUnreadableReport, errors.New("gzip: invalid header"))
	h.ingester.result = ingest.Result{}

	err := h.chain.Handle(context.Background(), Delivery{
		Stage:   jobrun.StageIngest,
		Payload: []byte(`{"run_id":"r1","report_path":"/broken","period":"one_week","day":"2024-01-01T00:00:00Z"}`),
		Attempt: 1,
	})
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.Empty(t, h.stats.aggregated)
}

func TestChain_SkipsRedeliveredStagesOfAggregatedRun(t *testing.T) {
	h := newHarness(t, 3)
	require.NoError(t, h.tracker.Save(context.Background(), &jobrun.Run{ID: "r1", State: jobrun.StateAggregated}))

	for _, d := range []Delivery{
		{Stage: jobrun.StageIngest, Payload: []byte(`{"run_id":"r1","report_path":"x","period":"one_week","day":"2024-01-01T00:00:00Z"}`), Attempt: 2},
		{Stage: jobrun.StageAggregate, Payload: []byte(`{"run_id":"r1","day":"2024-01-01T00:00:00Z"}`), Attempt: 2},
	} {
		require.NoError(t, h.chain.Handle(context.Background(), d))
	}
	assert.Empty(t, h.ingester.calls)
	assert.Empty(t, h.stats.aggregated)
	assert.Equal(t, 1, h.metrics.outcomes["ingest/skipped"])
	assert.Equal(t, 1, h.metrics.outcomes["aggregate/skipped"])
	assert.Equal(t, jobrun.StateAggregated, h.run(t, "r1").State)
}

func TestChain_StartDefaultsToTodayInAppTimezone(t *testing.T) {
	t.Cleanup(func() { _ = timeutil.SetLocation("UTC") })
	require.NoError(t, timeutil.SetLocation("Europe/Moscow"))

	h := newHarness(t, 3)
	// 22:30 UTC is already the next day in Moscow.
	h.chain.now = func() time.Time { return time.Date(2024, 1, 1, 22, 30, 0, 0, time.UTC) }

	run, _, err := h.chain.Start(context.Background(), searchquery.PeriodOneWeek, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), run.Day)
}

func TestChain_SkipsStagesOfFailedRun(t *testing.T) {
	h := newHarness(t, 3)
	require.NoError(t, h.tracker.Save(context.Background(), &jobrun.Run{ID: "r1", State: jobrun.StateFailed}))

	err := h.chain.Handle(context.Background(), Delivery{
		Stage:   jobrun.StageIngest,
		Payload: []byte(`{"run_id":"r1","report_path":"x","period":"one_week","day":"2024-01-01T00:00:00Z"}`),
		Attempt: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, h.ingester.calls)
	assert.Equal(t, 1, h.metrics.outcomes["ingest/skipped"])
}

func TestChain_UnknownRunContinuesFromStage(t *testing.T) {
	h := newHarness(t, 3)

	err := h.chain.Handle(context.Background(), Delivery{
		Stage:   jobrun.StageAggregate,
		Payload: []byte(`{"run_id":"expired","day":"2024-01-01T00:00:00Z"}`),
		Attempt: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, jobrun.StateAggregated, h.run(t, "expired").State)
}

func TestChain_RejectsBadDeliveries(t *testing.T) {
	h := newHarness(t, 3)

	err := h.chain.Handle(context.Background(), Delivery{Stage: "publish", Attempt: 1})
	assert.True(t, IsNonRetryable(err))

	err = h.chain.Handle(context.Background(), Delivery{Stage: jobrun.StageAggregate, Payload: []byte("{"), Attempt: 1})
	assert.True(t, IsNonRetryable(err))
}

func TestChain_StartRejectsUnknownPeriod(t *testing.T) {
	h := newHarness(t, 3)
	_, _, err := h.chain.Start(context.Background(), "fortnight", runDay)
	require.ErrorIs(t, err, searchquery.ErrInvalidSearchQuery)
}
