package jobrun

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a run is not tracked.
var ErrNotFound = errors.New("job run not found")

// ErrInvalidTransition is returned for a state change the chain does not allow.
var ErrInvalidTransition = errors.New("invalid job run transition")

// State is the progress of one chain run.
type State string

const (
	StatePending    State = "PENDING"
	StateDownloaded State = "DOWNLOADED"
	StateIngested   State = "INGESTED"
	StateAggregated State = "AGGREGATED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further stage runs after s.
func (s State) Terminal() bool {
	return s == StateAggregated || s == StateFailed
}

// Stage names one step of the chain.
type Stage string

const (
	StageAcquire   Stage = "acquire"
	StageIngest    Stage = "ingest"
	StageAggregate Stage = "aggregate"
)

// Stages lists the chain in execution order.
var Stages = []Stage{StageAcquire, StageIngest, StageAggregate}

// Produces returns the state a successful stage leads to.
func (s Stage) Produces() State {
	switch s {
	case StageAcquire:
		return StateDownloaded
	case StageIngest:
		return StateIngested
	case StageAggregate:
		return StateAggregated
	default:
		return StateFailed
	}
}

// Requires returns the state a run must be in before the stage starts.
func (s Stage) Requires() State {
	switch s {
	case StageIngest:
		return StateDownloaded
	case StageAggregate:
		return StateIngested
	default:
		return StatePending
	}
}

// Run tracks one Acquire -> Ingest -> Aggregate chain.
type Run struct {
	ID        string    `json:"run_id"`
	Period    string    `json:"period"`
	Day       time.Time `json:"day"`
	State     State     `json:"state"`
	Stage     Stage     `json:"stage"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Advance moves the run to the state produced by stage.
// Re-delivery of an already completed stage is accepted.
func (r *Run) Advance(stage Stage, now time.Time) error {
	if r.State == StateFailed {
		return fmt.Errorf("%w: run %s already failed", ErrInvalidTransition, r.ID)
	}
	next := stage.Produces()
	if r.State != stage.Requires() && !reached(r.State, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, next)
	}
	if !reached(r.State, next) {
		r.State = next
	}
	r.Stage = stage
	r.LastError = ""
	r.UpdatedAt = now
	return nil
}

// Fail marks the run as terminally failed.
func (r *Run) Fail(stage Stage, cause error, now time.Time) {
	r.State = StateFailed
	r.Stage = stage
	if cause != nil {
		r.LastError = cause.Error()
	}
	r.UpdatedAt = now
}

var order = map[State]int{
	StatePending:    0,
	StateDownloaded: 1,
	StateIngested:   2,
	StateAggregated: 3,
}

func reached(current, target State) bool {
	c, ok := order[current]
	if !ok {
		return false
	}
	t, ok := order[target]
	if !ok {
		return false
	}
	return c >= t
}
