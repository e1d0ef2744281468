package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"searchstats/internal/domain/searchquery"
)

const (
	valuePrefix = "value:"
	idPrefix    = "id:"
)

// SearchQueryCache is an in-process search query cache for single-node runs and tests.
// Expired entries are dropped lazily on read.
type SearchQueryCache struct {
	mu    sync.RWMutex
	items *gocache.Cache
	ttl   time.Duration
}

// NewSearchQueryCache creates a cache. A zero ttl keeps entries until Purge.
func NewSearchQueryCache(ttl time.Duration) *SearchQueryCache {
	expiration := ttl
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}
	return &SearchQueryCache{
		items: gocache.New(expiration, 0),
		ttl:   expiration,
	}
}

// GetByValue returns the cached query for value.
func (c *SearchQueryCache) GetByValue(_ context.Context, value string) (*searchquery.SearchQuery, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.lookup(valuePrefix + searchquery.NormalizeValue(value))
	return q, ok, nil
}

// GetByID returns the cached query for id.
func (c *SearchQueryCache) GetByID(_ context.Context, id searchquery.ID) (*searchquery.SearchQuery, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.lookup(idPrefix + strconv.FormatInt(id, 10))
	return q, ok, nil
}

// GetByValues returns the cached queries among values keyed by value.
func (c *SearchQueryCache) GetByValues(_ context.Context, values []string) (map[string]*searchquery.SearchQuery, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]*searchquery.SearchQuery, len(values))
	for _, v := range searchquery.UniqueValues(values) {
		if q, ok := c.lookup(valuePrefix + v); ok {
			result[v] = q
		}
	}
	return result, nil
}

// Set stores persisted queries under both indexes at once.
func (c *SearchQueryCache) Set(_ context.Context, queries ...*searchquery.SearchQuery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range queries {
		if !q.Persisted() {
			continue
		}
		stored := *q
		c.items.Set(valuePrefix+stored.Value, stored, c.ttl)
		c.items.Set(idPrefix+strconv.FormatInt(stored.ID, 10), stored, c.ttl)
	}
	return nil
}

// Purge removes every entry and reports how many keys were held.
func (c *SearchQueryCache) Purge(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(c.items.ItemCount())
	c.items.Flush()
	return n, nil
}

func (c *SearchQueryCache) lookup(key string) (*searchquery.SearchQuery, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	q, ok := v.(searchquery.SearchQuery)
	if !ok {
		return nil, false
	}
	return &q, true
}
