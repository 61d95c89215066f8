// Package service runs single research jobs asynchronously on behalf of the
// HTTP API: a submission is registered, acknowledged, and executed in the
// background while callers poll the registry for its outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/launchpad/internal/events"
	"github.com/mattjoyce/launchpad/internal/job"
	"github.com/mattjoyce/launchpad/internal/log"
	"github.com/mattjoyce/launchpad/internal/registry"
	"github.com/mattjoyce/launchpad/internal/worker"
)

// ErrClosed is returned by Submit once Close has been called.
var ErrClosed = errors.New("service is shutting down")

// recordTimeout bounds journaling of a finished job.
const recordTimeout = 10 * time.Second

type Service struct {
	reg    *registry.Registry
	inv    worker.Invoker
	hub    *events.Hub
	logger *slog.Logger

	// ctx outlives individual requests; cancelling it kills every in-flight worker.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New wires a service. hub may be nil when no event stream is wanted.
func New(reg *registry.Registry, inv worker.Invoker, hub *events.Hub) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		reg:    reg,
		inv:    inv,
		hub:    hub,
		logger: log.WithComponent("service"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit registers d and starts it in the background. The returned snapshot is
// always queued; the job may already be running by the time the caller sees it.
func (s *Service) Submit(d job.Descriptor) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return job.Job{}, ErrClosed
	}

	j, err := s.reg.Submit(d)
	if err != nil {
		return job.Job{}, err
	}
	s.publish(j)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(j)
	}()

	log.WithJob(j.ID).Info("job accepted", "ticker", j.Ticker, "topic", j.Topic, "sources", len(j.Sources))
	return j, nil
}

func (s *Service) Get(id string) (job.Job, error) { return s.reg.Get(id) }

func (s *Service) List() []job.Job { return s.reg.List() }

// Delete forgets the job. A running worker keeps going until its deadline and
// its result is discarded.
func (s *Service) Delete(id string) error {
	if err := s.reg.Delete(id); err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.Publish(events.TypeJobDeleted, events.JobChange{JobID: id})
	}
	log.WithJob(id).Info("job deleted")
	return nil
}

// Wait blocks until every background execution has returned.
func (s *Service) Wait() { s.wg.Wait() }

// Close stops accepting work and waits for in-flight jobs. If ctx expires
// first the remaining workers are killed and Close still waits for their
// results to be recorded before returning ctx's error.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached, killing in-flight workers")
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Service) execute(queued job.Job) {
	logger := log.WithJob(queued.ID)

	running, err := s.reg.MarkRunning(queued.ID)
	if err != nil {
		// Deleted before it started.
		logger.Info("job not started", "error", err)
		return
	}
	s.publish(running)

	res := s.invoke(running.Descriptor)

	// Shutdown cancels s.ctx to kill workers; their outcomes still get journaled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), recordTimeout)
	defer cancel()

	var final job.Job
	if res.Success {
		final, err = s.reg.MarkCompleted(recordCtx, queued.ID, res)
	} else {
		final, err = s.reg.MarkFailed(recordCtx, queued.ID, res, res.Error)
	}
	if err != nil {
		logger.Info("result discarded", "error", err)
		return
	}
	s.publish(final)

	logger.Info("job finished",
		"status", final.Status,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
		"kind", res.Kind,
	)
}

func (s *Service) invoke(d job.Descriptor) (res job.Result) {
	started := time.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("worker invocation panicked", "panic", r)
			res = job.NewResult(d)
			res.Kind = job.KindPanic
			res.Error = fmt.Sprintf("worker invocation panicked: %v", r)
			res.StartedAt = started
			res.FinishedAt = time.Now().UTC()
			res.Duration = res.FinishedAt.Sub(started)
		}
	}()
	return s.inv.Invoke(s.ctx, d)
}

func (s *Service) publish(j job.Job) {
	if s.hub != nil {
		s.hub.PublishJob(j)
	}
}
