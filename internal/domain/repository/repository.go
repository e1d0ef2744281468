package repository

import (
	"context"
	"time"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/searchquery"
)

// SearchQueryRepository defines storage operations for search queries.
type SearchQueryRepository interface {
	GetByValue(ctx context.Context, value string) (*searchquery.SearchQuery, error)
	GetByValues(ctx context.Context, values []string) ([]*searchquery.SearchQuery, error)
	GetByID(ctx context.Context, id searchquery.ID) (*searchquery.SearchQuery, error)
	BulkCreate(ctx context.Context, queries []*searchquery.SearchQuery) error
	List(ctx context.Context, query searchquery.ListQuery) ([]*searchquery.SearchQuery, error)
}

// DailyStatRepository defines storage operations for per-day search query stats.
type DailyStatRepository interface {
	BulkUpsert(ctx context.Context, stats []dailystat.DailyStat) error
	BulkRegister(ctx context.Context, stats []dailystat.DailyStat) error
	EnsurePartition(ctx context.Context, day time.Time) error
	List(ctx context.Context, ids []searchquery.ID, from, to time.Time) ([]dailystat.DailyStat, error)
}

// DailyTotalRepository defines storage operations for per-day totals.
type DailyTotalRepository interface {
	Aggregate(ctx context.Context, day time.Time) (dailystat.DailyTotal, error)
	List(ctx context.Context, from, to time.Time) ([]dailystat.DailyTotal, error)
}
