package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchstats/internal/domain/jobrun"
	"searchstats/internal/usecase/jobs"
)

func runServer(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

type recordingHandler struct {
	mu         sync.Mutex
	deliveries []jobs.Delivery
	results    []error
	policy     jobs.RetryPolicy
	seen       chan jobs.Delivery
}

func newRecordingHandler(policy jobs.RetryPolicy, results ...error) *recordingHandler {
	return &recordingHandler{policy: policy, results: results, seen: make(chan jobs.Delivery, 16)}
}

func (h *recordingHandler) Handle(ctx context.Context, d jobs.Delivery) error {
	h.mu.Lock()
	h.deliveries = append(h.deliveries, d)
	var err error
	if len(h.results) > 0 {
		err = h.results[0]
		h.results = h.results[1:]
	}
	h.mu.Unlock()
	h.seen <- d
	return err
}

func (h *recordingHandler) Policy(jobrun.Stage) jobs.RetryPolicy { return h.policy }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.deliveries)
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Connect(Config{URL: runServer(t), JobTimeout: 5 * time.Second, MemoryStorage: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func consume(t *testing.T, q *Queue, h jobs.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitDelivery(t *testing.T, h *recordingHandler) jobs.Delivery {
	t.Helper()
	select {
	case d := <-h.seen:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return jobs.Delivery{}
	}
}

func TestQueue_DeliversPayload(t *testing.T) {
	q := newTestQueue(t)
	h := newRecordingHandler(jobs.RetryPolicy{MaxAttempts: 3})
	consume(t, q, h)

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err := q.Enqueue(context.Background(), jobrun.StageAggregate, jobs.AggregatePayload{RunID: "r1", Day: day})
	require.NoError(t, err)
	assert.Equal(t, "SEARCHSTATS_JOBS:1", id)

	d := waitDelivery(t, h)
	assert.Equal(t, jobrun.StageAggregate, d.Stage)
	assert.Equal(t, uint(1), d.Attempt)
	assert.Equal(t, id, d.JobID)

	var p jobs.AggregatePayload
	require.NoError(t, json.Unmarshal(d.Payload, &p))
	assert.Equal(t, "r1", p.RunID)
	assert.True(t, day.Equal(p.Day))
}

func TestQueue_RedeliversTransientFailures(t *testing.T) {
	q := newTestQueue(t)
	h := newRecordingHandler(jobs.RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Millisecond}, errors.New("db timeout"))
	consume(t, q, h)

	_, err := q.Enqueue(context.Background(), jobrun.StageIngest, jobs.IngestPayload{RunID: "r1"})
	require.NoError(t, err)

	first := waitDelivery(t, h)
	second := waitDelivery(t, h)
	assert.Equal(t, uint(1), first.Attempt)
	assert.Equal(t, uint(2), second.Attempt)
}

func TestQueue_TerminatesNonRetryable(t *testing.T) {
	q := newTestQueue(t)
	h := newRecordingHandler(jobs.RetryPolicy{MaxAttempts: 5, Delay: 10 * time.Millisecond}, jobs.NonRetryable(errors.New("unauthorized")))
	consume(t, q, h)

	_, err := q.Enqueue(context.Background(), jobrun.StageAcquire, jobs.AcquirePayload{RunID: "r1"})
	require.NoError(t, err)

	waitDelivery(t, h)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, h.count())
}

func TestQueue_StopsAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(t)
	fail := errors.New("still down")
	h := newRecordingHandler(jobs.RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond}, fail, fail, fail)
	consume(t, q, h)

	_, err := q.Enqueue(context.Background(), jobrun.StageAggregate, jobs.AggregatePayload{RunID: "r1"})
	require.NoError(t, err)

	waitDelivery(t, h)
	waitDelivery(t, h)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, h.count())
}

func TestQueue_DeduplicatesRunStage(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, jobrun.StageIngest, jobs.IngestPayload{RunID: "r1", ReportPath: "a"})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, jobrun.StageIngest, jobs.IngestPayload{RunID: "r1", ReportPath: "a"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := q.Enqueue(ctx, jobrun.StageAggregate, jobs.AggregatePayload{RunID: "r1"})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	info, err := q.js.StreamInfo(q.cfg.Stream)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}

func TestQueue_ReusesExistingStream(t *testing.T) {
	url := runServer(t)
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	defer conn.Close()

	_, err = New(conn, Config{MemoryStorage: true}, nil)
	require.NoError(t, err)
	q, err := New(conn, Config{MemoryStorage: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "searchstats.jobs.acquire", q.Subject(jobrun.StageAcquire))
}

func TestQueue_HealthCheck(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.HealthCheck(context.Background()))

	q.conn.Close()
	require.Error(t, q.HealthCheck(context.Background()))
}
