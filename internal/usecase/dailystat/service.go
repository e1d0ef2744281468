package dailystat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/searchquery"
	"searchstats/internal/pkg/timeutil"
)

// DefaultRangeDays is how far from_date reaches back from to_date when a
// caller gives no from_date.
const DefaultRangeDays = 14

// StatRepository describes DB operations for per-day stats.
type StatRepository interface {
	BulkUpsert(ctx context.Context, stats []dailystat.DailyStat) error
	BulkRegister(ctx context.Context, stats []dailystat.DailyStat) error
	EnsurePartition(ctx context.Context, day time.Time) error
	List(ctx context.Context, ids []searchquery.ID, from, to time.Time) ([]dailystat.DailyStat, error)
}

// TotalRepository describes DB operations for per-day totals.
type TotalRepository interface {
	Aggregate(ctx context.Context, day time.Time) (dailystat.DailyTotal, error)
	List(ctx context.Context, from, to time.Time) ([]dailystat.DailyTotal, error)
}

// Service accumulates per-day stats and aggregates them into daily totals.
type Service struct {
	stats  StatRepository
	totals TotalRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a daily stat service.
func NewService(stats StatRepository, totals TotalRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{stats: stats, totals: totals, logger: logger, now: timeutil.Now}
}

// Accumulate writes stats for a report period. Weekly reports overwrite the
// stored metric; longer periods only register missing rows.
func (s *Service) Accumulate(ctx context.Context, stats []dailystat.DailyStat, period searchquery.ReportPeriod) error {
	if len(stats) == 0 {
		return nil
	}
	for _, st := range stats {
		if err := st.Validate(); err != nil {
			return err
		}
	}
	if period.HasWeeklyMetric() {
		return s.stats.BulkUpsert(ctx, stats)
	}
	return s.stats.BulkRegister(ctx, stats)
}

// PrepareDay makes sure the storage partition for day exists.
func (s *Service) PrepareDay(ctx context.Context, day time.Time) error {
	return s.stats.EnsurePartition(ctx, dailystat.Day(day))
}

// AggregateDay recomputes the total of day, replacing the previous one.
func (s *Service) AggregateDay(ctx context.Context, day time.Time) (dailystat.DailyTotal, error) {
	if day.IsZero() {
		return dailystat.DailyTotal{}, fmt.Errorf("%w: day is required", dailystat.ErrInvalidStat)
	}
	total, err := s.totals.Aggregate(ctx, dailystat.Day(day))
	if err != nil {
		return dailystat.DailyTotal{}, err
	}
	s.logger.Info("daily total aggregated",
		"day", total.Day.Format(time.DateOnly),
		"total_requests_per_week", total.TotalRequestsPerWeek)
	return total, nil
}

// Stats returns stats of ids within [from, to].
func (s *Service) Stats(ctx context.Context, ids []searchquery.ID, from, to time.Time) ([]dailystat.DailyStat, error) {
	from, to, err := s.Range(from, to)
	if err != nil {
		return nil, err
	}
	return s.stats.List(ctx, ids, from, to)
}

// Totals returns daily totals within [from, to].
func (s *Service) Totals(ctx context.Context, from, to time.Time) ([]dailystat.DailyTotal, error) {
	from, to, err := s.Range(from, to)
	if err != nil {
		return nil, err
	}
	return s.totals.List(ctx, from, to)
}

// Range fills missing bounds: to defaults to today in the application
// timezone and from to DefaultRangeDays before to.
func (s *Service) Range(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = timeutil.DateInLocation(s.now())
	}
	to = dailystat.Day(to)
	if from.IsZero() {
		from = to.AddDate(0, 0, -DefaultRangeDays)
	}
	from = dailystat.Day(from)
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from_date must not be after to_date", dailystat.ErrInvalidStat)
	}
	return from, to, nil
}
