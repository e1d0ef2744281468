package searchquery

import (
	"context"
	"fmt"
	"log/slog"

	"searchstats/internal/domain/searchquery"
)

// Repository describes DB operations required by the search query service.
type Repository interface {
	GetByValue(ctx context.Context, value string) (*searchquery.SearchQuery, error)
	GetByValues(ctx context.Context, values []string) ([]*searchquery.SearchQuery, error)
	GetByID(ctx context.Context, id searchquery.ID) (*searchquery.SearchQuery, error)
	BulkCreate(ctx context.Context, queries []*searchquery.SearchQuery) error
	List(ctx context.Context, query searchquery.ListQuery) ([]*searchquery.SearchQuery, error)
}

// Cache stores resolved search queries by value and by id.
type Cache interface {
	GetByValue(ctx context.Context, value string) (*searchquery.SearchQuery, bool, error)
	GetByValues(ctx context.Context, values []string) (map[string]*searchquery.SearchQuery, error)
	GetByID(ctx context.Context, id searchquery.ID) (*searchquery.SearchQuery, bool, error)
	Set(ctx context.Context, queries ...*searchquery.SearchQuery) error
}

// Service resolves search queries through the cache before the store.
// Cache failures are logged and never fail a call.
type Service struct {
	repo   Repository
	cache  Cache
	logger *slog.Logger
}

// NewService builds a search query service. cache may be nil.
func NewService(repo Repository, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Resolve returns the persisted query for value, or nil when it does not exist.
// It never creates a query.
func (s *Service) Resolve(ctx context.Context, value string) (*searchquery.SearchQuery, error) {
	norm := searchquery.NormalizeValue(value)
	if norm == "" {
		return nil, fmt.Errorf("%w: value is required", searchquery.ErrInvalidSearchQuery)
	}
	if s.cache != nil {
		q, ok, err := s.cache.GetByValue(ctx, norm)
		if err != nil {
			s.logger.Warn("search query cache read failed", "value", norm, "error", err)
		} else if ok {
			return q, nil
		}
	}

	q, err := s.repo.GetByValue(ctx, norm)
	if err != nil {
		return nil, fmt.Errorf("resolve search query: %w", err)
	}
	if q == nil {
		return nil, nil
	}
	s.remember(ctx, q)
	return q, nil
}

// ResolveMany resolves values in bulk. Absent values are missing from the result.
func (s *Service) ResolveMany(ctx context.Context, values []string) (map[string]*searchquery.SearchQuery, error) {
	unique := searchquery.UniqueValues(values)
	result := make(map[string]*searchquery.SearchQuery, len(unique))
	if len(unique) == 0 {
		return result, nil
	}

	misses := unique
	if s.cache != nil {
		cached, err := s.cache.GetByValues(ctx, unique)
		if err != nil {
			s.logger.Warn("search query cache read failed", "values", len(unique), "error", err)
		} else {
			misses = misses[:0:0]
			for _, v := range unique {
				if q, ok := cached[v]; ok {
					result[v] = q
					continue
				}
				misses = append(misses, v)
			}
		}
	}
	if len(misses) == 0 {
		return result, nil
	}

	found, err := s.repo.GetByValues(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("resolve search queries: %w", err)
	}
	for _, q := range found {
		result[q.Value] = q
	}
	s.remember(ctx, found...)
	return result, nil
}

// Get returns the query with id, or nil when it does not exist.
func (s *Service) Get(ctx context.Context, id searchquery.ID) (*searchquery.SearchQuery, error) {
	if s.cache != nil {
		q, ok, err := s.cache.GetByID(ctx, id)
		if err != nil {
			s.logger.Warn("search query cache read failed", "id", id, "error", err)
		} else if ok {
			return q, nil
		}
	}
	q, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get search query: %w", err)
	}
	if q != nil {
		s.remember(ctx, q)
	}
	return q, nil
}

// BulkCreate persists queries, assigning ids in place, and mirrors them into the cache.
func (s *Service) BulkCreate(ctx context.Context, queries []*searchquery.SearchQuery) error {
	if len(queries) == 0 {
		return nil
	}
	if err := s.repo.BulkCreate(ctx, queries); err != nil {
		return err
	}
	s.remember(ctx, queries...)
	return nil
}

// Find lists queries for the query API.
func (s *Service) Find(ctx context.Context, query searchquery.ListQuery) ([]*searchquery.SearchQuery, error) {
	if query.Limit <= 0 {
		query.Limit = 100
	}
	if query.Offset < 0 {
		query.Offset = 0
	}
	return s.repo.List(ctx, query)
}

func (s *Service) remember(ctx context.Context, queries ...*searchquery.SearchQuery) {
	if s.cache == nil || len(queries) == 0 {
		return
	}
	if err := s.cache.Set(ctx, queries...); err != nil {
		s.logger.Warn("search query cache write failed", "count", len(queries), "error", err)
	}
}
