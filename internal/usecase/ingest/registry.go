package ingest

import (
	"context"
	"sync"

	"searchstats/internal/domain/searchquery"
)

// claim is the creation of one new search query by exactly one unit of a run.
type claim struct {
	value string
	done  chan struct{}
	query *searchquery.SearchQuery
	err   error
}

func (c *claim) resolve(q *searchquery.SearchQuery, err error) {
	c.query, c.err = q, err
	close(c.done)
}

func (c *claim) wait(ctx context.Context) (*searchquery.SearchQuery, error) {
	select {
	case <-c.done:
		return c.query, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// registry tracks the values created during one run.
type registry struct {
	mu     sync.Mutex
	claims map[string]*claim
}

func newRegistry() *registry {
	return &registry{claims: make(map[string]*claim)}
}

// claim splits values into those the caller must create and those another
// unit already creates or created.
func (r *registry) claim(values []string) (owned, pending []*claim) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		if c, ok := r.claims[v]; ok {
			pending = append(pending, c)
			continue
		}
		c := &claim{value: v, done: make(chan struct{})}
		r.claims[v] = c
		owned = append(owned, c)
	}
	return owned, pending
}

// release drops failed claims so a later batch can retry them.
func (r *registry) release(claims []*claim) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range claims {
		if r.claims[c.value] == c {
			delete(r.claims, c.value)
		}
	}
}
