package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/searchquery"
)

// DefaultConcurrency is the number of batches processed at once.
const DefaultConcurrency = 8

// Resolver looks up and creates search queries.
type Resolver interface {
	ResolveMany(ctx context.Context, values []string) (map[string]*searchquery.SearchQuery, error)
	BulkCreate(ctx context.Context, queries []*searchquery.SearchQuery) error
}

// Accumulator writes per-day stats.
type Accumulator interface {
	Accumulate(ctx context.Context, stats []dailystat.DailyStat, period searchquery.ReportPeriod) error
}

// Recorder receives pipeline metrics.
type Recorder interface {
	RowsIngested(n int)
	BatchFailed()
	RowsSkipped(n int)
	UnitsInFlight(n int)
}

// BatchSource yields report batches until io.EOF.
type BatchSource interface {
	Next() (Batch, error)
}

// Config holds pipeline settings.
type Config struct {
	BatchSize   int
	Concurrency int
}

// Result summarizes one ingestion run.
type Result struct {
	Batches       int
	Rows          int
	Created       int
	FailedBatches int
	SkippedRows   int
	RowErrors     []RowError
	// Complete is true when the whole report was read.
	Complete bool
}

// BatchFailure describes one batch that could not be written.
type BatchFailure struct {
	Index     int
	FirstLine int
	Rows      int
	Err       error
}

func (f *BatchFailure) Error() string {
	return fmt.Sprintf("batch %d (line %d, %d rows): %v", f.Index, f.FirstLine, f.Rows, f.Err)
}

func (f *BatchFailure) Unwrap() error { return f.Err }

// IngestError lists the batches that failed during a run.
type IngestError struct {
	Failures []*BatchFailure
	errs     *multierror.Error
}

func (e *IngestError) Error() string {
	if e.errs == nil {
		return fmt.Sprintf("%d report batches failed", len(e.Failures))
	}
	return e.errs.Error()
}

func (e *IngestError) Unwrap() error {
	if e.errs == nil {
		return nil
	}
	return e.errs
}

// Pipeline ingests report batches under a fixed concurrency limit.
type Pipeline struct {
	resolver    Resolver
	accumulator Accumulator
	metrics     Recorder
	logger      *slog.Logger
	cfg         Config
}

// NewPipeline creates a pipeline. metrics may be nil.
func NewPipeline(resolver Resolver, accumulator Accumulator, cfg Config, metrics Recorder, logger *slog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		resolver:    resolver,
		accumulator: accumulator,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// Ingest reads the report at path and writes its stats for day.
// It returns once every dispatched batch has finished. A non-nil error
// may wrap *IngestError, in which case result still describes the run.
func (p *Pipeline) Ingest(ctx context.Context, path string, day time.Time, period searchquery.ReportPeriod) (Result, error) {
	reader, err := OpenReport(path, p.cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}
	defer reader.Close()

	result, err := p.Run(ctx, reader, day, period)
	result.SkippedRows = reader.Skipped()
	result.RowErrors = reader.RowErrors()
	p.record(func(m Recorder) { m.RowsSkipped(result.SkippedRows) })
	for _, rowErr := range result.RowErrors {
		p.logger.Debug("report row skipped", "path", path, "line", rowErr.Line, "error", rowErr.Err)
	}
	return result, err
}

// Run drains source, processing each batch in its own goroutine.
// A permit is taken before a batch is read, so at most Concurrency batches
// are held in memory at once.
func (p *Pipeline) Run(ctx context.Context, source BatchSource, day time.Time, period searchquery.ReportPeriod) (Result, error) {
	day = dailystat.Day(day)
	run := &runState{registry: newRegistry(), metrics: p.metrics}
	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	var wg sync.WaitGroup
	var readErr error
	complete := false

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			readErr = err
			break
		}
		batch, err := source.Next()
		if err != nil {
			sem.Release(1)
			if errors.Is(err, io.EOF) {
				complete = true
			} else {
				readErr = err
			}
			break
		}

		wg.Add(1)
		run.started()
		go func(batch Batch) {
			defer wg.Done()
			defer sem.Release(1)
			defer run.finished()

			created, err := p.process(ctx, run, batch, day, period)
			if err != nil {
				p.logger.Error("report batch failed",
					"batch", batch.Index, "line", batch.FirstLine(), "rows", len(batch.Rows), "error", err)
				run.fail(batch, err)
				return
			}
			run.succeed(len(batch.Rows), created)
		}(batch)
	}
	wg.Wait()

	result, ingestErr := run.result()
	result.Complete = complete
	var merr *multierror.Error
	if readErr != nil {
		merr = multierror.Append(merr, fmt.Errorf("read report batches: %w", readErr))
	}
	if ingestErr != nil {
		merr = multierror.Append(merr, ingestErr)
	}
	return result, merr.ErrorOrNil()
}

func (p *Pipeline) process(ctx context.Context, run *runState, batch Batch, day time.Time, period searchquery.ReportPeriod) (int, error) {
	values := make([]string, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		values = append(values, row.Value)
	}
	resolved, err := p.resolver.ResolveMany(ctx, values)
	if err != nil {
		return 0, fmt.Errorf("resolve: %w", err)
	}

	var missing []string
	for _, v := range searchquery.UniqueValues(values) {
		if _, ok := resolved[v]; !ok {
			missing = append(missing, v)
		}
	}
	owned, pending := run.registry.claim(missing)
	if err := p.create(ctx, run, owned); err != nil {
		return 0, err
	}
	for _, c := range owned {
		resolved[c.value] = c.query
	}
	for _, c := range pending {
		q, err := c.wait(ctx)
		if err != nil {
			return 0, fmt.Errorf("wait for %q: %w", c.value, err)
		}
		resolved[c.value] = q
	}

	stats := make([]dailystat.DailyStat, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		q := resolved[searchquery.NormalizeValue(row.Value)]
		if q == nil || !q.Persisted() {
			return 0, fmt.Errorf("search query %q has no id", row.Value)
		}
		stat := dailystat.DailyStat{SearchQueryID: q.ID, Day: day}
		if period.HasWeeklyMetric() {
			stat.RequestsPerWeek = row.Requests
		}
		stats = append(stats, stat)
	}
	if err := p.accumulator.Accumulate(ctx, stats, period); err != nil {
		return 0, fmt.Errorf("accumulate: %w", err)
	}
	return len(owned), nil
}

// create persists the owned claims with one bulk statement and settles them.
func (p *Pipeline) create(ctx context.Context, run *runState, owned []*claim) error {
	if len(owned) == 0 {
		return nil
	}
	queries := make([]*searchquery.SearchQuery, len(owned))
	for i, c := range owned {
		queries[i] = &searchquery.SearchQuery{Value: c.value}
	}
	err := p.resolver.BulkCreate(ctx, queries)
	if err == nil {
		for _, q := range queries {
			if !q.Persisted() {
				err = fmt.Errorf("search query %q was not assigned an id", q.Value)
				break
			}
		}
	}
	if err != nil {
		err = fmt.Errorf("create search queries: %w", err)
		run.registry.release(owned)
		for _, c := range owned {
			c.resolve(nil, err)
		}
		return err
	}
	for i, c := range owned {
		c.resolve(queries[i], nil)
	}
	return nil
}

func (p *Pipeline) record(fn func(Recorder)) {
	if p.metrics != nil {
		fn(p.metrics)
	}
}

// runState is the mutable state shared by the units of one run.
type runState struct {
	registry *registry
	metrics  Recorder

	mu       sync.Mutex
	inFlight int
	batches  int
	rows     int
	created  int
	failures []*BatchFailure
}

func (s *runState) started() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
	s.batches++
	s.publishInFlight()
}

func (s *runState) finished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	s.publishInFlight()
}

// publishInFlight must be called with s.mu held so gauge updates keep the
// order of the counter changes.
func (s *runState) publishInFlight() {
	if s.metrics != nil {
		s.metrics.UnitsInFlight(s.inFlight)
	}
}

func (s *runState) succeed(rows, created int) {
	s.mu.Lock()
	s.rows += rows
	s.created += created
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RowsIngested(rows)
	}
}

func (s *runState) fail(batch Batch, err error) {
	s.mu.Lock()
	s.failures = append(s.failures, &BatchFailure{
		Index:     batch.Index,
		FirstLine: batch.FirstLine(),
		Rows:      len(batch.Rows),
		Err:       err,
	})
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BatchFailed()
	}
}

func (s *runState) result() (Result, *IngestError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := Result{
		Batches:       s.batches,
		Rows:          s.rows,
		Created:       s.created,
		FailedBatches: len(s.failures),
	}
	if len(s.failures) == 0 {
		return res, nil
	}
	failures := append([]*BatchFailure(nil), s.failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
	errs := &multierror.Error{ErrorFormat: func(es []error) string {
		lines := make([]string, len(es))
		for i, e := range es {
			lines[i] = e.Error()
		}
		return fmt.Sprintf("%d report batches failed: %s", len(es), strings.Join(lines, "; "))
	}}
	for _, f := range failures {
		errs = multierror.Append(errs, f)
	}
	return res, &IngestError{Failures: failures, errs: errs}
}
