package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/repository"
)

var _ repository.DailyTotalRepository = (*DailyTotalRepository)(nil)

// DailyTotalRepository implements repository.DailyTotalRepository backed by PostgreSQL.
type DailyTotalRepository struct {
	pool *pgxpool.Pool
}

// NewDailyTotalRepository creates a new DailyTotalRepository.
func NewDailyTotalRepository(pool *pgxpool.Pool) *DailyTotalRepository {
	return &DailyTotalRepository{pool: pool}
}

// Aggregate recomputes the total of day from its stats and replaces the stored value.
// A day without stats is stored with a zero total.
func (r *DailyTotalRepository) Aggregate(ctx context.Context, day time.Time) (dailystat.DailyTotal, error) {
	const stmt = `
INSERT INTO daily_totals (day, total_requests_per_week, updated_at)
SELECT $1::date, COALESCE(SUM(requests_per_week), 0), NOW()
FROM search_query_daily_stats
WHERE day = $1::date
ON CONFLICT (day) DO UPDATE SET
	total_requests_per_week = EXCLUDED.total_requests_per_week,
	updated_at = EXCLUDED.updated_at
RETURNING day, total_requests_per_week`

	var total dailystat.DailyTotal
	if err := r.pool.QueryRow(ctx, stmt, dailystat.Day(day)).Scan(&total.Day, &total.TotalRequestsPerWeek); err != nil {
		return dailystat.DailyTotal{}, fmt.Errorf("aggregate daily total: %w", err)
	}
	return total, nil
}

// List returns totals within [from, to] ordered by day.
func (r *DailyTotalRepository) List(ctx context.Context, from, to time.Time) ([]dailystat.DailyTotal, error) {
	const query = `
SELECT day, total_requests_per_week
FROM daily_totals
WHERE day >= $1 AND day <= $2
ORDER BY day ASC`
	rows, err := r.pool.Query(ctx, query, dailystat.Day(from), dailystat.Day(to))
	if err != nil {
		return nil, fmt.Errorf("list daily totals: %w", err)
	}
	defer rows.Close()

	var result []dailystat.DailyTotal
	for rows.Next() {
		var t dailystat.DailyTotal
		if err := rows.Scan(&t.Day, &t.TotalRequestsPerWeek); err != nil {
			return nil, fmt.Errorf("scan daily total: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
