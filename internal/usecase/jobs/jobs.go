package jobs

import (
	"context"
	"errors"
	"time"

	"searchstats/internal/domain/jobrun"
	"searchstats/internal/domain/searchquery"
)

// ErrDayLocked is returned when another run is ingesting the same day.
// It is transient: the stage is retried later.
var ErrDayLocked = errors.New("day is being ingested by another run")

// Queue submits stage jobs to a transport.
type Queue interface {
	Enqueue(ctx context.Context, stage jobrun.Stage, payload any) (string, error)
}

// Delivery is one attempt at running a stage job.
type Delivery struct {
	JobID   string
	Stage   jobrun.Stage
	Payload []byte
	// Attempt starts at 1.
	Attempt uint
}

// Handler runs stage jobs delivered by a transport.
type Handler interface {
	Handle(ctx context.Context, d Delivery) error
	Policy(stage jobrun.Stage) RetryPolicy
}

// AcquirePayload starts a chain run.
type AcquirePayload struct {
	RunID  string                   `json:"run_id"`
	Period searchquery.ReportPeriod `json:"period"`
	Day    time.Time                `json:"day"`
}

// IngestPayload points the ingest stage at a downloaded report.
type IngestPayload struct {
	RunID      string                   `json:"run_id"`
	ReportPath string                   `json:"report_path"`
	Period     searchquery.ReportPeriod `json:"period"`
	Day        time.Time                `json:"day"`
}

// AggregatePayload names the day to aggregate.
type AggregatePayload struct {
	RunID string    `json:"run_id"`
	Day   time.Time `json:"day"`
}

// RunKey identifies the run a payload belongs to.
func (p AcquirePayload) RunKey() string { return p.RunID }

// RunKey identifies the run a payload belongs to.
func (p IngestPayload) RunKey() string { return p.RunID }

// RunKey identifies the run a payload belongs to.
func (p AggregatePayload) RunKey() string { return p.RunID }

// RetryPolicy bounds the attempts of one stage.
type RetryPolicy struct {
	MaxAttempts uint
	Delay       time.Duration
	MaxDelay    time.Duration
}

// Backoff returns the wait before the attempt following attempt n (1-based),
// doubling from Delay up to MaxDelay.
func (p RetryPolicy) Backoff(n uint) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	d := p.Delay
	for i := uint(1); i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempt n was the last one allowed.
func (p RetryPolicy) Exhausted(n uint) bool {
	return p.MaxAttempts > 0 && n >= p.MaxAttempts
}

// DefaultPolicies returns the stage policies used when none are configured.
func DefaultPolicies() map[jobrun.Stage]RetryPolicy {
	return map[jobrun.Stage]RetryPolicy{
		jobrun.StageAcquire:   {MaxAttempts: 14, Delay: 10 * time.Second, MaxDelay: 30 * time.Minute},
		jobrun.StageIngest:    {MaxAttempts: 3, Delay: time.Minute, MaxDelay: 30 * time.Minute},
		jobrun.StageAggregate: {MaxAttempts: 14, Delay: 10 * time.Second, MaxDelay: 30 * time.Minute},
	}
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err as permanent: the stage fails without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var target *nonRetryableError
	return errors.As(err, &target)
}
