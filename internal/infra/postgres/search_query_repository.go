package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"searchstats/internal/domain/repository"
	"searchstats/internal/domain/searchquery"
)

var _ repository.SearchQueryRepository = (*SearchQueryRepository)(nil)

const defaultListLimit = 100

// SearchQueryRepository implements repository.SearchQueryRepository backed by PostgreSQL.
type SearchQueryRepository struct {
	pool *pgxpool.Pool
}

// NewSearchQueryRepository creates a new SearchQueryRepository.
func NewSearchQueryRepository(pool *pgxpool.Pool) *SearchQueryRepository {
	return &SearchQueryRepository{pool: pool}
}

// GetByValue returns the search query with the given value, or nil when absent.
func (r *SearchQueryRepository) GetByValue(ctx context.Context, value string) (*searchquery.SearchQuery, error) {
	norm := searchquery.NormalizeValue(value)
	if norm == "" {
		return nil, fmt.Errorf("search query value is required")
	}
	var result searchquery.SearchQuery
	err := r.pool.QueryRow(ctx, `SELECT id, value FROM search_queries WHERE value = $1`, norm).
		Scan(&result.ID, &result.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get search query by value: %w", err)
	}
	return &result, nil
}

// GetByValues returns the persisted search queries among values. Missing values are omitted.
func (r *SearchQueryRepository) GetByValues(ctx context.Context, values []string) ([]*searchquery.SearchQuery, error) {
	unique := searchquery.UniqueValues(values)
	if len(unique) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, value FROM search_queries WHERE value = ANY($1::text[])`, unique)
	if err != nil {
		return nil, fmt.Errorf("get search queries by values: %w", err)
	}
	return scanSearchQueries(rows)
}

// GetByID returns the search query with the given id, or nil when absent.
func (r *SearchQueryRepository) GetByID(ctx context.Context, id searchquery.ID) (*searchquery.SearchQuery, error) {
	if id <= 0 {
		return nil, fmt.Errorf("search query id is required")
	}
	var result searchquery.SearchQuery
	err := r.pool.QueryRow(ctx, `SELECT id, value FROM search_queries WHERE id = $1`, id).
		Scan(&result.ID, &result.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get search query: %w", err)
	}
	return &result, nil
}

// BulkCreate inserts the queries in one statement and assigns their ids in place.
// Values already stored keep their id. Duplicate values in the input share one id.
func (r *SearchQueryRepository) BulkCreate(ctx context.Context, queries []*searchquery.SearchQuery) error {
	if len(queries) == 0 {
		return nil
	}
	values := make([]string, 0, len(queries))
	for _, q := range queries {
		if q == nil {
			return fmt.Errorf("search query is nil")
		}
		q.Value = searchquery.NormalizeValue(q.Value)
		if q.Value == "" {
			return fmt.Errorf("search query value is required")
		}
		values = append(values, q.Value)
	}
	// ON CONFLICT DO UPDATE cannot touch the same row twice in one statement.
	values = searchquery.UniqueValues(values)

	const stmt = `
INSERT INTO search_queries (value)
SELECT unnest($1::text[])
ON CONFLICT (value) DO UPDATE SET
	value = EXCLUDED.value
RETURNING id, value`

	rows, err := r.pool.Query(ctx, stmt, values)
	if err != nil {
		return fmt.Errorf("bulk create search queries: %w", err)
	}
	created, err := scanSearchQueries(rows)
	if err != nil {
		return fmt.Errorf("bulk create search queries: %w", err)
	}

	ids := make(map[string]searchquery.ID, len(created))
	for _, c := range created {
		ids[c.Value] = c.ID
	}
	for _, q := range queries {
		id, ok := ids[q.Value]
		if !ok || id == 0 {
			return fmt.Errorf("bulk create search queries: no id returned for %q", q.Value)
		}
		q.ID = id
	}
	return nil
}

// List returns search queries filtered and ordered by query.
func (r *SearchQueryRepository) List(ctx context.Context, query searchquery.ListQuery) ([]*searchquery.SearchQuery, error) {
	sql, args := buildListSearchQueriesSQL(query)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list search queries: %w", err)
	}
	return scanSearchQueries(rows)
}

func buildListSearchQueriesSQL(q searchquery.ListQuery) (string, []any) {
	builder := strings.Builder{}
	builder.WriteString("SELECT q.id, q.value FROM search_queries q")

	var args []any
	argPos := 1
	if q.SortBy == searchquery.SortByDay {
		builder.WriteString(fmt.Sprintf(
			" JOIN search_query_daily_stats s ON s.search_query_id = q.id AND s.day = $%d", argPos))
		args = append(args, q.SortDay)
		argPos++
	}

	var conditions []string
	if len(q.IDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("q.id = ANY($%d::bigint[])", argPos))
		args = append(args, q.IDs)
		argPos++
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(q.doc @@ plainto_tsquery('russian', $%d) OR q.doc @@ plainto_tsquery('english', $%d))", argPos, argPos))
		args = append(args, search)
		argPos++
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	// sort_dir only applies to the day metric; values are listed alphabetically.
	if q.SortBy == searchquery.SortByDay {
		dir := "DESC"
		if q.SortDir == searchquery.SortAsc {
			dir = "ASC"
		}
		builder.WriteString(" ORDER BY s.requests_per_week " + dir + ", q.id ASC")
	} else {
		builder.WriteString(" ORDER BY q.value ASC")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1))
	args = append(args, limit, offset)
	return builder.String(), args
}

func scanSearchQueries(rows pgx.Rows) ([]*searchquery.SearchQuery, error) {
	defer rows.Close()
	var result []*searchquery.SearchQuery
	for rows.Next() {
		var q searchquery.SearchQuery
		if err := rows.Scan(&q.ID, &q.Value); err != nil {
			return nil, fmt.Errorf("scan search query: %w", err)
		}
		result = append(result, &q)
	}
	return result, rows.Err()
}
