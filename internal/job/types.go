package job

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition encodes queued -> running -> {completed, failed}.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Descriptor is the immutable description of one unit of work.
type Descriptor struct {
	Ticker   string         `json:"ticker,omitempty" yaml:"ticker,omitempty"`
	Topic    string         `json:"topic" yaml:"topic"`
	Goal     string         `json:"goal" yaml:"goal"`
	Sources  []string       `json:"sources" yaml:"sources"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Label is the first positional argument handed to the worker.
func (d Descriptor) Label() string {
	if d.Ticker != "" {
		return d.Ticker
	}
	return d.Topic
}

// Clone returns a copy that shares no slices or maps with d.
// Metadata is copied one level deep.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Sources = slices.Clone(d.Sources)
	if d.Metadata != nil {
		out.Metadata = maps.Clone(d.Metadata)
	}
	return out
}

type ErrorKind string

const (
	KindSpawn         ErrorKind = "spawn"
	KindTimeout       ErrorKind = "timeout"
	KindWorkerFailure ErrorKind = "worker_failure"
	KindResultParse   ErrorKind = "result_parse"
	KindPanic         ErrorKind = "panic"
)

// Result is the normalized outcome of one worker invocation.
type Result struct {
	Topic   string   `json:"topic"`
	Ticker  string   `json:"ticker,omitempty"`
	Goal    string   `json:"goal"`
	Sources []string `json:"sources"`

	Success  bool            `json:"success"`
	ExitCode int             `json:"exit_code"`
	Stdout   string          `json:"stdout"`
	Stderr   string          `json:"stderr"`
	Summary  json.RawMessage `json:"summary,omitempty"`
	TimedOut bool            `json:"timed_out,omitempty"`

	Kind  ErrorKind `json:"error_kind,omitempty"`
	Error string    `json:"error,omitempty"`
	// ParseError is set when the summary could not be read but the
	// invocation still counts as successful.
	ParseError string `json:"parse_error,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// NewResult seeds a Result with the descriptor fields it reports on.
func NewResult(d Descriptor) Result {
	return Result{
		Topic:    d.Topic,
		Ticker:   d.Ticker,
		Goal:     d.Goal,
		Sources:  slices.Clone(d.Sources),
		ExitCode: -1,
	}
}

func (r Result) clone() Result {
	r.Sources = slices.Clone(r.Sources)
	r.Summary = slices.Clone(r.Summary)
	return r
}

// Job is one registered unit of work and its lifecycle state.
type Job struct {
	ID string `json:"job_id"`
	Descriptor
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Result      *Result    `json:"result"`
	Error       string     `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand outside the owning registry.
func (j Job) Clone() Job {
	out := j
	out.Descriptor = j.Descriptor.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Result != nil {
		r := j.Result.clone()
		out.Result = &r
	}
	return out
}
