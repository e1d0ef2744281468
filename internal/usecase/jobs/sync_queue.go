package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"searchstats/internal/domain/jobrun"
)

type syncJob struct {
	id      string
	stage   jobrun.Stage
	payload []byte
}

// SyncQueue runs jobs in the calling goroutine. Stages enqueued by a running
// job are run after it returns, so the whole chain completes within the
// first Enqueue call.
type SyncQueue struct {
	mu       sync.Mutex
	handler  Handler
	pending  []syncJob
	draining bool
}

// NewSyncQueue creates a queue. Bind must be called before Enqueue.
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// Bind sets the handler that runs jobs.
func (q *SyncQueue) Bind(h Handler) {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
}

// Enqueue runs the job with its stage retry policy. The returned error
// collects every stage that finally failed while draining.
func (q *SyncQueue) Enqueue(ctx context.Context, stage jobrun.Stage, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", stage, err)
	}
	job := syncJob{id: uuid.NewString(), stage: stage, payload: data}

	q.mu.Lock()
	if q.handler == nil {
		q.mu.Unlock()
		return "", fmt.Errorf("sync queue has no handler")
	}
	q.pending = append(q.pending, job)
	if q.draining {
		q.mu.Unlock()
		return job.id, nil
	}
	q.draining = true
	q.mu.Unlock()

	return job.id, q.drain(ctx)
}

func (q *SyncQueue) drain(ctx context.Context) error {
	var errs *multierror.Error
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return errs.ErrorOrNil()
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		h := q.handler
		q.mu.Unlock()

		if err := q.run(ctx, h, job); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s job %s: %w", job.stage, job.id, err))
		}
	}
}

func (q *SyncQueue) run(ctx context.Context, h Handler, job syncJob) error {
	policy := h.Policy(job.stage)
	attempts := policy.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	var attempt uint
	return retry.Do(
		func() error {
			attempt++
			err := h.Handle(ctx, Delivery{JobID: job.id, Stage: job.stage, Payload: job.payload, Attempt: attempt})
			if err != nil && IsNonRetryable(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return policy.Backoff(n + 1)
		}),
	)
}
