package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/jobrun"
	"searchstats/internal/domain/report"
	"searchstats/internal/domain/searchquery"
	"searchstats/internal/pkg/timeutil"
	"searchstats/internal/usecase/ingest"
)

// Ingester runs the ingestion pipeline over a report file.
type Ingester interface {
	Ingest(ctx context.Context, path string, day time.Time, period searchquery.ReportPeriod) (ingest.Result, error)
}

// StatService prepares storage for a day and aggregates it.
type StatService interface {
	PrepareDay(ctx context.Context, day time.Time) error
	AggregateDay(ctx context.Context, day time.Time) (dailystat.DailyTotal, error)
}

// DayLocker takes named locks shared by every worker.
type DayLocker interface {
	TryLock(ctx context.Context, name string) (bool, func(context.Context) error, error)
}

// Tracker persists run state.
type Tracker interface {
	Get(ctx context.Context, id string) (*jobrun.Run, error)
	Save(ctx context.Context, run *jobrun.Run) error
}

// StageRecorder receives stage metrics.
type StageRecorder interface {
	StageRun(stage, outcome string, seconds float64)
}

// Config holds chain settings.
type Config struct {
	ReportDir string
	Policies  map[jobrun.Stage]RetryPolicy
}

// Deps bundles the collaborators of a Chain. Locker, Tracker and Metrics may be nil.
type Deps struct {
	Source   report.Source
	Pipeline Ingester
	Stats    StatService
	Locker   DayLocker
	Tracker  Tracker
	Metrics  StageRecorder
	Logger   *slog.Logger
}

// Chain runs the acquire, ingest and aggregate stages.
type Chain struct {
	deps   Deps
	cfg    Config
	queue  Queue
	logger *slog.Logger
	now    func() time.Time
}

// NewChain creates a chain that enqueues follow-up stages on queue.
func NewChain(deps Deps, queue Queue, cfg Config) *Chain {
	policies := DefaultPolicies()
	for stage, p := range cfg.Policies {
		policies[stage] = p
	}
	cfg.Policies = policies
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{deps: deps, cfg: cfg, queue: queue, logger: logger, now: timeutil.Now}
}

// Policy returns the retry policy of stage.
func (c *Chain) Policy(stage jobrun.Stage) RetryPolicy {
	return c.cfg.Policies[stage]
}

// Start registers a new run and enqueues its acquire stage.
// The run is returned whenever it was registered, even alongside an error.
func (c *Chain) Start(ctx context.Context, period searchquery.ReportPeriod, day time.Time) (*jobrun.Run, string, error) {
	if !period.Valid() {
		return nil, "", fmt.Errorf("%w: unknown report period %q", searchquery.ErrInvalidSearchQuery, period)
	}
	if day.IsZero() {
		day = timeutil.DateInLocation(c.now())
	}
	run := &jobrun.Run{
		ID:        uuid.NewString(),
		Period:    string(period),
		Day:       dailystat.Day(day),
		State:     jobrun.StatePending,
		UpdatedAt: c.now().UTC(),
	}
	if err := c.save(ctx, run); err != nil {
		return nil, "", err
	}
	jobID, err := c.queue.Enqueue(ctx, jobrun.StageAcquire, AcquirePayload{RunID: run.ID, Period: period, Day: run.Day})
	if err != nil {
		// A synchronous queue reports the outcome of the chain here, so the run is still returned.
		return run, jobID, fmt.Errorf("enqueue acquire: %w", err)
	}
	c.logger.Info("job run started", "run_id", run.ID, "period", period, "day", run.Day.Format(time.DateOnly), "job_id", jobID)
	return run, jobID, nil
}

// Handle runs one delivery of a stage job. The returned error decides whether
// the transport retries: errors marked NonRetryable are final.
func (c *Chain) Handle(ctx context.Context, d Delivery) error {
	start := c.now()
	outcome := "success"
	defer func() {
		if c.deps.Metrics != nil {
			c.deps.Metrics.StageRun(string(d.Stage), outcome, c.now().Sub(start).Seconds())
		}
	}()

	var (
		runID string
		err   error
	)
	switch d.Stage {
	case jobrun.StageAcquire:
		var p AcquirePayload
		if err = decode(d.Payload, &p); err == nil {
			runID = p.RunID
			err = c.runStage(ctx, d, runID, p.Day, string(p.Period), func(ctx context.Context) error { return c.acquire(ctx, p) })
		}
	case jobrun.StageIngest:
		var p IngestPayload
		if err = decode(d.Payload, &p); err == nil {
			runID = p.RunID
			err = c.runStage(ctx, d, runID, p.Day, string(p.Period), func(ctx context.Context) error { return c.ingest(ctx, p) })
		}
	case jobrun.StageAggregate:
		var p AggregatePayload
		if err = decode(d.Payload, &p); err == nil {
			runID = p.RunID
			err = c.runStage(ctx, d, runID, p.Day, "", func(ctx context.Context) error { return c.aggregate(ctx, p) })
		}
	default:
		err = NonRetryable(fmt.Errorf("unknown stage %q", d.Stage))
	}

	switch {
	case errors.Is(err, errRunClosed):
		outcome = "skipped"
		return nil
	case err == nil:
		return nil
	case IsNonRetryable(err) || c.Policy(d.Stage).Exhausted(d.Attempt):
		outcome = "failed"
		c.logger.Error("job stage failed", "stage", d.Stage, "run_id", runID, "attempt", d.Attempt, "error", err)
		return err
	default:
		outcome = "retry"
		c.logger.Warn("job stage will be retried", "stage", d.Stage, "run_id", runID, "attempt", d.Attempt, "error", err)
		return err
	}
}

var errRunClosed = errors.New("job run already finished")

// runStage wraps fn with run tracking.
func (c *Chain) runStage(ctx context.Context, d Delivery, runID string, day time.Time, period string, fn func(context.Context) error) error {
	run, err := c.load(ctx, runID, d.Stage, day, period)
	if err != nil {
		return err
	}
	if run != nil && run.State.Terminal() {
		c.logger.Info("skip stage of finished run", "stage", d.Stage, "run_id", runID, "state", run.State)
		return errRunClosed
	}

	stageErr := fn(ctx)
	if run == nil {
		return stageErr
	}

	now := c.now().UTC()
	run.Attempts = int(d.Attempt)
	switch {
	case stageErr == nil:
		if err := run.Advance(d.Stage, now); err != nil {
			return NonRetryable(err)
		}
	case IsNonRetryable(stageErr) || c.Policy(d.Stage).Exhausted(d.Attempt):
		run.Fail(d.Stage, stageErr, now)
	default:
		run.Stage = d.Stage
		run.LastError = stageErr.Error()
		run.UpdatedAt = now
	}
	if err := c.save(ctx, run); err != nil {
		c.logger.Warn("job run state not saved", "run_id", run.ID, "error", err)
	}
	return stageErr
}

func (c *Chain) load(ctx context.Context, runID string, stage jobrun.Stage, day time.Time, period string) (*jobrun.Run, error) {
	if c.deps.Tracker == nil || runID == "" {
		return nil, nil
	}
	run, err := c.deps.Tracker.Get(ctx, runID)
	if errors.Is(err, jobrun.ErrNotFound) {
		// Expired or started outside the chain: continue from this stage.
		return &jobrun.Run{
			ID:     runID,
			Period: period,
			Day:    dailystat.Day(day),
			State:  stage.Requires(),
		}, nil
	}
	if err != nil {
		c.logger.Warn("job run state not loaded", "run_id", runID, "error", err)
		return nil, nil
	}
	return run, nil
}

func (c *Chain) save(ctx context.Context, run *jobrun.Run) error {
	if c.deps.Tracker == nil {
		return nil
	}
	return c.deps.Tracker.Save(ctx, run)
}

func (c *Chain) ingest(ctx context.Context, p IngestPayload) error {
	day := dailystat.Day(p.Day)
	if c.deps.Locker != nil {
		locked, unlock, err := c.deps.Locker.TryLock(ctx, "ingest:"+day.Format(time.DateOnly))
		if err != nil {
			return fmt.Errorf("lock day: %w", err)
		}
		if !locked {
			return ErrDayLocked
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("day lock not released", "day", day.Format(time.DateOnly), "error", err)
			}
		}()
	}

	if err := c.deps.Stats.PrepareDay(ctx, day); err != nil {
		return fmt.Errorf("prepare day: %w", err)
	}
	result, err := c.deps.Pipeline.Ingest(ctx, p.ReportPath, day, p.Period)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ingest.ErrUnreadableReport) {
		return NonRetryable(fmt.Errorf("ingest report: %w", err))
	}
	if err != nil {
		if !result.Complete || (result.Rows == 0 && result.FailedBatches > 0) {
			return fmt.Errorf("ingest report: %w", err)
		}
		c.logger.Warn("report partially ingested",
			"run_id", p.RunID,
			"path", p.ReportPath,
			"failed_batches", result.FailedBatches,
			"batches", result.Batches,
			"error", err)
	}
	c.logger.Info("report ingested",
		"run_id", p.RunID,
		"day", day.Format(time.DateOnly),
		"rows", result.Rows,
		"created", result.Created,
		"skipped_rows", result.SkippedRows)

	if _, err := c.queue.Enqueue(ctx, jobrun.StageAggregate, AggregatePayload{RunID: p.RunID, Day: day}); err != nil {
		return fmt.Errorf("enqueue aggregate: %w", err)
	}
	return nil
}

func (c *Chain) aggregate(ctx context.Context, p AggregatePayload) error {
	if _, err := c.deps.Stats.AggregateDay(ctx, p.Day); err != nil {
		if errors.Is(err, dailystat.ErrInvalidStat) {
			return NonRetryable(fmt.Errorf("aggregate day: %w", err))
		}
		return fmt.Errorf("aggregate day: %w", err)
	}
	return nil
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return NonRetryable(fmt.Errorf("decode payload: %w", err))
	}
	return nil
}
