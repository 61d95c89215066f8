package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/launchpad/internal/job"
	"github.com/mattjoyce/launchpad/internal/log"
)

// Journal receives a snapshot of every job that reaches a terminal state.
type Journal interface {
	Record(ctx context.Context, j job.Job) error
}

// Registry is the in-memory table of jobs. Every read and write goes through mu.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*job.Job
	order []string

	journal Journal
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

type Option func(*Registry)

// WithJournal records terminal jobs to j.
func WithJournal(j Journal) Option {
	return func(r *Registry) { r.journal = j }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		jobs:   make(map[string]*job.Job),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: log.WithComponent("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates d and inserts it as a queued job.
func (r *Registry) Submit(d job.Descriptor) (job.Job, error) {
	if err := d.ValidateSubmission(); err != nil {
		return job.Job{}, err
	}

	j := &job.Job{
		ID:         r.newID(),
		Descriptor: d.Clone(),
		Status:     job.StatusQueued,
		CreatedAt:  r.now(),
	}

	r.mu.Lock()
	if _, exists := r.jobs[j.ID]; exists {
		r.mu.Unlock()
		return job.Job{}, fmt.Errorf("job id collision: %s", j.ID)
	}
	r.jobs[j.ID] = j
	r.order = append(r.order, j.ID)
	snap := j.Clone()
	r.mu.Unlock()

	r.logger.Debug("job registered", "job_id", j.ID, "topic", d.Label())
	return snap, nil
}

func (r *Registry) Get(id string) (job.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return job.Job{}, job.ErrNotFound
	}
	return j.Clone(), nil
}

// List returns a snapshot of every job in insertion order.
func (r *Registry) List() []job.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]job.Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Delete removes the entry. A running worker is not signalled; its eventual
// result is discarded because later transitions find no entry.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return job.ErrNotFound
	}
	delete(r.jobs, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return nil
}

// MarkRunning moves a queued job to running and stamps started_at.
func (r *Registry) MarkRunning(id string) (job.Job, error) {
	return r.transition(id, job.StatusRunning, func(j *job.Job, now time.Time) {
		j.StartedAt = &now
	})
}

// MarkCompleted records a successful result.
func (r *Registry) MarkCompleted(ctx context.Context, id string, res job.Result) (job.Job, error) {
	snap, err := r.transition(id, job.StatusCompleted, func(j *job.Job, now time.Time) {
		j.CompletedAt = &now
		j.Result = &res
	})
	if err == nil {
		r.record(ctx, snap)
	}
	return snap, err
}

// MarkFailed records a failure. res may carry partial output and is kept
// alongside the error message.
func (r *Registry) MarkFailed(ctx context.Context, id string, res job.Result, msg string) (job.Job, error) {
	snap, err := r.transition(id, job.StatusFailed, func(j *job.Job, now time.Time) {
		j.CompletedAt = &now
		j.Result = &res
		j.Error = msg
	})
	if err == nil {
		r.record(ctx, snap)
	}
	return snap, err
}

func (r *Registry) transition(id string, to job.Status, apply func(*job.Job, time.Time)) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return job.Job{}, job.ErrNotFound
	}
	if !job.CanTransition(j.Status, to) {
		return job.Job{}, &job.TransitionError{JobID: id, From: j.Status, To: to}
	}

	now := r.now()
	// Timestamps never run backwards within one job.
	if now.Before(j.CreatedAt) {
		now = j.CreatedAt
	}
	if j.StartedAt != nil && now.Before(*j.StartedAt) {
		now = *j.StartedAt
	}
	j.Status = to
	apply(j, now)
	return j.Clone(), nil
}

func (r *Registry) record(ctx context.Context, snap job.Job) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(ctx, snap); err != nil {
		r.logger.Error("failed to journal job", "job_id", snap.ID, "error", err)
	}
}
