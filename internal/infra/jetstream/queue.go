package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"searchstats/internal/domain/jobrun"
	"searchstats/internal/usecase/jobs"
)

const (
	defaultStream          = "SEARCHSTATS_JOBS"
	defaultSubjectPrefix   = "searchstats.jobs"
	defaultJobTimeout      = 30 * time.Minute
	defaultDuplicateWindow = 10 * time.Minute
	ackWaitMargin          = 30 * time.Second
)

// Config describes the JetStream job queue.
type Config struct {
	URL             string
	Stream          string
	SubjectPrefix   string
	JobTimeout      time.Duration
	DuplicateWindow time.Duration
	MemoryStorage   bool
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Stream == "" {
		c.Stream = defaultStream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaultSubjectPrefix
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = defaultDuplicateWindow
	}
	return c
}

// Queue publishes stage jobs to a JetStream stream and consumes them.
type Queue struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	cfg    Config
	logger *slog.Logger
	owned  bool

	mu   sync.Mutex
	subs []*nats.Subscription
}

var _ jobs.Queue = (*Queue)(nil)

// Connect dials NATS and makes sure the job stream exists.
func Connect(cfg Config, logger *slog.Logger) (*Queue, error) {
	cfg = cfg.withDefaults()
	conn, err := nats.Connect(cfg.URL,
		nats.Name("searchstats"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	q, err := New(conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	q.owned = true
	return q, nil
}

// New builds a queue on an existing connection.
func New(conn *nats.Conn, cfg Config, logger *slog.Logger) (*Queue, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	q := &Queue{conn: conn, js: js, cfg: cfg, logger: logger}
	if err := q.ensureStream(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureStream() error {
	storage := nats.FileStorage
	if q.cfg.MemoryStorage {
		storage = nats.MemoryStorage
	}
	streamCfg := &nats.StreamConfig{
		Name:       q.cfg.Stream,
		Subjects:   []string{q.cfg.SubjectPrefix + ".>"},
		Storage:    storage,
		Retention:  nats.WorkQueuePolicy,
		Duplicates: q.cfg.DuplicateWindow,
		Replicas:   1,
	}
	_, err := q.js.StreamInfo(q.cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := q.js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("add stream %s: %w", q.cfg.Stream, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream info %s: %w", q.cfg.Stream, err)
	}
	if _, err := q.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("update stream %s: %w", q.cfg.Stream, err)
	}
	return nil
}

// Subject returns the subject jobs of stage are published on.
func (q *Queue) Subject(stage jobrun.Stage) string {
	return q.cfg.SubjectPrefix + "." + string(stage)
}

// Enqueue publishes a stage job. Payloads carrying a run key are deduplicated
// per run and stage within the stream's duplicate window.
func (q *Queue) Enqueue(ctx context.Context, stage jobrun.Stage, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", stage, err)
	}
	msg := nats.NewMsg(q.Subject(stage))
	msg.Data = data
	if keyed, ok := payload.(interface{ RunKey() string }); ok && keyed.RunKey() != "" {
		msg.Header.Set(nats.MsgIdHdr, keyed.RunKey()+":"+string(stage))
	}
	ack, err := q.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("publish %s job: %w", stage, err)
	}
	if ack.Duplicate {
		q.logger.Info("duplicate job ignored", "stage", stage, "sequence", ack.Sequence)
	}
	return jobID(ack.Stream, ack.Sequence), nil
}

// Consume subscribes a durable queue consumer per stage and runs deliveries
// through h until ctx is done.
func (q *Queue) Consume(ctx context.Context, h jobs.Handler) error {
	for _, stage := range jobrun.Stages {
		stage := stage
		policy := h.Policy(stage)
		maxDeliver := -1
		if policy.MaxAttempts > 0 {
			maxDeliver = int(policy.MaxAttempts)
		}
		durable := "searchstats-" + string(stage)
		sub, err := q.js.QueueSubscribe(q.Subject(stage), durable,
			func(msg *nats.Msg) { q.handle(ctx, h, stage, msg) },
			nats.Durable(durable),
			nats.BindStream(q.cfg.Stream),
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(q.cfg.JobTimeout+ackWaitMargin),
			nats.MaxDeliver(maxDeliver),
			nats.DeliverAll(),
		)
		if err != nil {
			q.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", stage, err)
		}
		q.mu.Lock()
		q.subs = append(q.subs, sub)
		q.mu.Unlock()
		q.logger.Info("job consumer started", "stage", stage, "subject", q.Subject(stage), "max_deliver", maxDeliver)
	}

	<-ctx.Done()
	q.unsubscribe()
	return nil
}

func (q *Queue) handle(ctx context.Context, h jobs.Handler, stage jobrun.Stage, msg *nats.Msg) {
	attempt := uint(1)
	id := ""
	if meta, err := msg.Metadata(); err == nil {
		attempt = uint(meta.NumDelivered)
		id = jobID(meta.Stream, meta.Sequence.Stream)
	}

	runCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	err := h.Handle(runCtx, jobs.Delivery{JobID: id, Stage: stage, Payload: msg.Data, Attempt: attempt})
	cancel()

	policy := h.Policy(stage)
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack()
	case jobs.IsNonRetryable(err) || policy.Exhausted(attempt):
		ackErr = msg.Term()
	default:
		ackErr = msg.NakWithDelay(policy.Backoff(attempt))
	}
	if ackErr != nil {
		q.logger.Warn("job acknowledgement failed", "stage", stage, "job_id", id, "error", ackErr)
	}
}

func (q *Queue) unsubscribe() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, sub := range q.subs {
		if err := sub.Drain(); err != nil {
			q.logger.Warn("job consumer drain failed", "subject", sub.Subject, "error", err)
		}
	}
	q.subs = nil
}

// Close drains the connection when the queue dialed it.
func (q *Queue) Close() error {
	q.unsubscribe()
	if q.owned {
		return q.conn.Drain()
	}
	return nil
}

// HealthCheck reports whether the connection is up and the stream reachable.
func (q *Queue) HealthCheck(ctx context.Context) error {
	if !q.conn.IsConnected() {
		return fmt.Errorf("nats connection status: %s", q.conn.Status())
	}
	if _, err := q.js.StreamInfo(q.cfg.Stream, nats.Context(ctx)); err != nil {
		return fmt.Errorf("stream info %s: %w", q.cfg.Stream, err)
	}
	return nil
}

func jobID(stream string, seq uint64) string {
	return stream + ":" + strconv.FormatUint(seq, 10)
}
