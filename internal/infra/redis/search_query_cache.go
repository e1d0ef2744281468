package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"searchstats/internal/domain/searchquery"
	"searchstats/internal/platform/cache"
)

const (
	searchQueryValuePrefix = "searchstats:sq:value:"
	searchQueryIDPrefix    = "searchstats:sq:id:"
	searchQueryPattern     = "searchstats:sq:*"
)

type searchQueryCacheClient interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	MGetBytes(ctx context.Context, keys ...string) ([][]byte, error)
	SetMulti(ctx context.Context, entries []cache.Entry, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string, batchSize int64) (int64, error)
}

// SearchQueryCache caches search queries in Redis under their value and their id.
// Both keys of a query are written in one transaction.
type SearchQueryCache struct {
	client searchQueryCacheClient
	ttl    time.Duration
	now    func() time.Time
}

type searchQueryEntry struct {
	Query     searchquery.SearchQuery `json:"query"`
	CreatedAt time.Time               `json:"created_at"`
	TTL       time.Duration           `json:"ttl"`
}

// NewSearchQueryCache constructs a cache wrapper. A zero ttl stores entries without expiry.
func NewSearchQueryCache(client searchQueryCacheClient, ttl time.Duration) *SearchQueryCache {
	return &SearchQueryCache{client: client, ttl: ttl, now: time.Now}
}

// ValueKey returns the cache key of a search query value.
func (c *SearchQueryCache) ValueKey(value string) string {
	return searchQueryValuePrefix + sha256Hex(searchquery.NormalizeValue(value))
}

// IDKey returns the cache key of a search query id.
func (c *SearchQueryCache) IDKey(id searchquery.ID) string {
	return searchQueryIDPrefix + strconv.FormatInt(id, 10)
}

// GetByValue returns the cached query for value.
func (c *SearchQueryCache) GetByValue(ctx context.Context, value string) (*searchquery.SearchQuery, bool, error) {
	norm := searchquery.NormalizeValue(value)
	return c.get(ctx, c.ValueKey(norm), func(q searchquery.SearchQuery) bool { return q.Value == norm })
}

// GetByID returns the cached query for id.
func (c *SearchQueryCache) GetByID(ctx context.Context, id searchquery.ID) (*searchquery.SearchQuery, bool, error) {
	return c.get(ctx, c.IDKey(id), func(q searchquery.SearchQuery) bool { return q.ID == id })
}

func (c *SearchQueryCache) get(ctx context.Context, key string, match func(searchquery.SearchQuery) bool) (*searchquery.SearchQuery, bool, error) {
	payload, err := c.client.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return decodeEntry(payload, match)
}

// decodeEntry treats entries of another query or an older shape as misses,
// which covers value hash collisions.
func decodeEntry(payload []byte, match func(searchquery.SearchQuery) bool) (*searchquery.SearchQuery, bool, error) {
	var entry searchQueryEntry
	if err := decodeSnappyJSON(payload, &entry); err != nil {
		return nil, false, fmt.Errorf("search query cache decode: %w", err)
	}
	if entry.Query.ID == 0 || !match(entry.Query) {
		return nil, false, nil
	}
	q := entry.Query
	return &q, true, nil
}

// GetByValues returns the cached queries among values keyed by value.
func (c *SearchQueryCache) GetByValues(ctx context.Context, values []string) (map[string]*searchquery.SearchQuery, error) {
	unique := searchquery.UniqueValues(values)
	if len(unique) == 0 {
		return map[string]*searchquery.SearchQuery{}, nil
	}
	keys := make([]string, len(unique))
	for i, v := range unique {
		keys[i] = c.ValueKey(v)
	}
	payloads, err := c.client.MGetBytes(ctx, keys...)
	if err != nil {
		return nil, err
	}
	result := make(map[string]*searchquery.SearchQuery, len(unique))
	for i, payload := range payloads {
		if payload == nil || i >= len(unique) {
			continue
		}
		value := unique[i]
		q, ok, err := decodeEntry(payload, func(q searchquery.SearchQuery) bool { return q.Value == value })
		if err != nil {
			return nil, err
		}
		if ok {
			result[value] = q
		}
	}
	return result, nil
}

// Set stores persisted queries under both keys. Unpersisted queries are skipped.
func (c *SearchQueryCache) Set(ctx context.Context, queries ...*searchquery.SearchQuery) error {
	entries := make([]cache.Entry, 0, len(queries)*2)
	now := c.now().UTC()
	for _, q := range queries {
		if !q.Persisted() {
			continue
		}
		payload, err := encodeSnappyJSON(searchQueryEntry{Query: *q, CreatedAt: now, TTL: c.ttl})
		if err != nil {
			return fmt.Errorf("search query cache encode: %w", err)
		}
		entries = append(entries,
			cache.Entry{Key: c.ValueKey(q.Value), Value: payload},
			cache.Entry{Key: c.IDKey(q.ID), Value: payload},
		)
	}
	return c.client.SetMulti(ctx, entries, c.ttl)
}

// Purge removes every cached search query.
func (c *SearchQueryCache) Purge(ctx context.Context) (int64, error) {
	return c.client.DeleteByPattern(ctx, searchQueryPattern, 500)
}
