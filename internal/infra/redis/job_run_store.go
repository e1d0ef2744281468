package redis

import (
	"context"
	"fmt"
	"time"

	"searchstats/internal/domain/jobrun"
)

const jobRunPrefix = "searchstats:jobrun:"

// JobRunStore keeps job chain runs in Redis until ttl elapses.
type JobRunStore struct {
	cache *snappyJSONCache
}

// NewJobRunStore constructs a run store.
func NewJobRunStore(client bytesCacheClient, ttl time.Duration) *JobRunStore {
	return &JobRunStore{cache: newSnappyJSONCache(client, ttl)}
}

// Get returns the run or jobrun.ErrNotFound.
func (s *JobRunStore) Get(ctx context.Context, id string) (*jobrun.Run, error) {
	var run jobrun.Run
	ok, err := s.cache.Get(ctx, jobRunPrefix+id, &run)
	if err != nil {
		return nil, fmt.Errorf("get job run: %w", err)
	}
	if !ok {
		return nil, jobrun.ErrNotFound
	}
	return &run, nil
}

// Save stores the run, replacing any previous version.
func (s *JobRunStore) Save(ctx context.Context, run *jobrun.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("job run id is required")
	}
	if err := s.cache.Set(ctx, jobRunPrefix+run.ID, run); err != nil {
		return fmt.Errorf("save job run: %w", err)
	}
	return nil
}
