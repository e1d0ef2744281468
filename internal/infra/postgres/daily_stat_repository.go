package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/repository"
	"searchstats/internal/domain/searchquery"
)

var _ repository.DailyStatRepository = (*DailyStatRepository)(nil)

const dailyStatsTable = "search_query_daily_stats"

// DailyStatRepository implements repository.DailyStatRepository backed by PostgreSQL.
type DailyStatRepository struct {
	pool *pgxpool.Pool
}

// NewDailyStatRepository creates a new DailyStatRepository.
func NewDailyStatRepository(pool *pgxpool.Pool) *DailyStatRepository {
	return &DailyStatRepository{pool: pool}
}

// BulkUpsert writes stats in one statement, overwriting requests_per_week on conflict.
// Rows sharing (search_query_id, day) are collapsed to the last one first.
func (r *DailyStatRepository) BulkUpsert(ctx context.Context, stats []dailystat.DailyStat) error {
	const stmt = `
INSERT INTO search_query_daily_stats (search_query_id, day, requests_per_week)
SELECT * FROM unnest($1::bigint[], $2::date[], $3::bigint[])
ON CONFLICT (search_query_id, day) DO UPDATE SET
	requests_per_week = EXCLUDED.requests_per_week`
	if err := r.exec(ctx, stmt, stats); err != nil {
		return fmt.Errorf("bulk upsert daily stats: %w", err)
	}
	return nil
}

// BulkRegister inserts stats that do not exist yet and leaves existing rows untouched.
func (r *DailyStatRepository) BulkRegister(ctx context.Context, stats []dailystat.DailyStat) error {
	const stmt = `
INSERT INTO search_query_daily_stats (search_query_id, day, requests_per_week)
SELECT * FROM unnest($1::bigint[], $2::date[], $3::bigint[])
ON CONFLICT (search_query_id, day) DO NOTHING`
	if err := r.exec(ctx, stmt, stats); err != nil {
		return fmt.Errorf("bulk register daily stats: %w", err)
	}
	return nil
}

func (r *DailyStatRepository) exec(ctx context.Context, stmt string, stats []dailystat.DailyStat) error {
	stats = dailystat.DedupeLatest(stats)
	if len(stats) == 0 {
		return nil
	}
	ids := make([]int64, len(stats))
	days := make([]time.Time, len(stats))
	requests := make([]int64, len(stats))
	for i, s := range stats {
		if err := s.Validate(); err != nil {
			return err
		}
		ids[i] = s.SearchQueryID
		days[i] = s.Day
		requests[i] = s.RequestsPerWeek
	}
	_, err := r.pool.Exec(ctx, stmt, ids, days, requests)
	return err
}

// EnsurePartition creates the monthly partition holding day when it is missing.
// Rows of that month already sitting in the default partition are moved into it.
func (r *DailyStatRepository) EnsurePartition(ctx context.Context, day time.Time) error {
	from := dailystat.MonthStart(day)
	to := from.AddDate(0, 1, 0)
	name := partitionName(from)

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return fmt.Errorf("check partition %s: %w", name, err)
	}
	if exists {
		return nil
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Serialize concurrent creators of the same month.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		ident := pgx.Identifier{name}.Sanitize()
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE %s (LIKE %s INCLUDING DEFAULTS INCLUDING CONSTRAINTS)`, ident, dailyStatsTable),
			fmt.Sprintf(`WITH moved AS (
	DELETE FROM %s_default WHERE day >= '%s' AND day < '%s'
	RETURNING search_query_id, day, requests_per_week
)
INSERT INTO %s (search_query_id, day, requests_per_week) SELECT * FROM moved`,
				dailyStatsTable, from.Format(time.DateOnly), to.Format(time.DateOnly), ident),
			fmt.Sprintf(`ALTER TABLE %s ATTACH PARTITION %s FOR VALUES FROM ('%s') TO ('%s')`,
				dailyStatsTable, ident, from.Format(time.DateOnly), to.Format(time.DateOnly)),
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	return nil
}

// List returns stats of the given queries within [from, to], ordered by day.
func (r *DailyStatRepository) List(ctx context.Context, ids []searchquery.ID, from, to time.Time) ([]dailystat.DailyStat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `
SELECT search_query_id, day, requests_per_week
FROM search_query_daily_stats
WHERE search_query_id = ANY($1::bigint[]) AND day >= $2 AND day <= $3
ORDER BY day ASC, search_query_id ASC`
	rows, err := r.pool.Query(ctx, query, ids, dailystat.Day(from), dailystat.Day(to))
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	defer rows.Close()

	var result []dailystat.DailyStat
	for rows.Next() {
		var s dailystat.DailyStat
		if err := rows.Scan(&s.SearchQueryID, &s.Day, &s.RequestsPerWeek); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func partitionName(month time.Time) string {
	return fmt.Sprintf("%s_y%04dm%02d", dailyStatsTable, month.Year(), int(month.Month()))
}
