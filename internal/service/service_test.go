package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattjoyce/launchpad/internal/events"
	"github.com/mattjoyce/launchpad/internal/job"
	"github.com/mattjoyce/launchpad/internal/log"
	"github.com/mattjoyce/launchpad/internal/registry"
	"github.com/mattjoyce/launchpad/internal/worker/mocks"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	goleak.VerifyTestMain(m)
}

type invokerFunc func(ctx context.Context, d job.Descriptor) job.Result

func (f invokerFunc) Invoke(ctx context.Context, d job.Descriptor) job.Result { return f(ctx, d) }

func descriptor() job.Descriptor {
	return job.Descriptor{
		Ticker:  "AAPL",
		Topic:   "Apple Inc",
		Goal:    "Monitor Apple stock",
		Sources: []string{"https://a.test"},
	}
}

func success(d job.Descriptor) job.Result {
	res := job.NewResult(d)
	res.Success = true
	res.ExitCode = 0
	res.Stdout = `{"articlesCollected": 3}`
	return res
}

func TestSubmitReturnsQueuedBeforeWorkerFinishes(t *testing.T) {
	release := make(chan struct{})
	svc := New(registry.New(), invokerFunc(func(_ context.Context, d job.Descriptor) job.Result {
		<-release
		return success(d)
	}), nil)

	j, err := svc.Submit(descriptor())
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)

	require.Eventually(t, func() bool {
		got, err := svc.Get(j.ID)
		return err == nil && got.Status == job.StatusRunning
	}, time.Second, 5*time.Millisecond)

	close(release)
	svc.Wait()

	got, err := svc.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, `{"articlesCollected": 3}`, got.Result.Stdout)
	assert.Empty(t, got.Error)
	require.NoError(t, svc.Close(context.Background()))
}

func TestWorkerFailureMarksJobFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, d job.Descriptor) job.Result {
		res := job.NewResult(d)
		res.ExitCode = 1
		res.Stderr = "navigation failed"
		res.Kind = job.KindWorkerFailure
		res.Error = "worker exited with code 1"
		return res
	})

	svc := New(registry.New(), inv, nil)
	j, err := svc.Submit(descriptor())
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "worker exited with code 1", got.Error)
	assert.Equal(t, "navigation failed", got.Result.Stderr)
	require.NotNil(t, got.CompletedAt)
	require.NoError(t, svc.Close(context.Background()))
}

func TestSubmitValidationCreatesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := New(registry.New(), mocks.NewMockInvoker(ctrl), nil)

	d := descriptor()
	d.Sources = []string{}
	_, err := svc.Submit(d)
	require.ErrorIs(t, err, job.ErrValidation)
	assert.Empty(t, svc.List())
	require.NoError(t, svc.Close(context.Background()))
}

func TestPanickingInvokerFailsJob(t *testing.T) {
	svc := New(registry.New(), invokerFunc(func(context.Context, job.Descriptor) job.Result {
		panic("boom")
	}), nil)

	j, err := svc.Submit(descriptor())
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, job.KindPanic, got.Result.Kind)
	require.NoError(t, svc.Close(context.Background()))
}

func TestDeleteRunningJobDiscardsResult(t *testing.T) {
	release := make(chan struct{})
	hub := events.NewHub(16)
	svc := New(registry.New(), invokerFunc(func(_ context.Context, d job.Descriptor) job.Result {
		<-release
		return success(d)
	}), hub)

	j, err := svc.Submit(descriptor())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := svc.Get(j.ID)
		return err == nil && got.Status == job.StatusRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Delete(j.ID))
	assert.ErrorIs(t, svc.Delete(j.ID), job.ErrNotFound)

	close(release)
	svc.Wait()

	_, err = svc.Get(j.ID)
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.Empty(t, svc.List())

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.TypeJobQueued, events.TypeJobRunning, events.TypeJobDeleted}, types)
	require.NoError(t, svc.Close(context.Background()))
}

func TestLifecycleEvents(t *testing.T) {
	hub := events.NewHub(16)
	svc := New(registry.New(), invokerFunc(func(_ context.Context, d job.Descriptor) job.Result {
		return success(d)
	}), hub)

	_, err := svc.Submit(descriptor())
	require.NoError(t, err)
	svc.Wait()

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.TypeJobQueued, events.TypeJobRunning, events.TypeJobCompleted}, types)
	require.NoError(t, svc.Close(context.Background()))
}

func TestCloseDeadlineCancelsWorkers(t *testing.T) {
	svc := New(registry.New(), invokerFunc(func(ctx context.Context, d job.Descriptor) job.Result {
		<-ctx.Done()
		res := job.NewResult(d)
		res.TimedOut = true
		res.Kind = job.KindTimeout
		res.Error = "worker cancelled: " + ctx.Err().Error()
		return res
	}), nil)

	j, err := svc.Submit(descriptor())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = svc.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := svc.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.True(t, got.Result.TimedOut)

	_, err = svc.Submit(descriptor())
	assert.ErrorIs(t, err, ErrClosed)
}

type ctxJournal struct {
	mu   sync.Mutex
	errs map[string]error
}

func (c *ctxJournal) Record(ctx context.Context, j job.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errs == nil {
		c.errs = make(map[string]error)
	}
	c.errs[j.ID] = ctx.Err()
	return ctx.Err()
}

func TestCloseDeadlineStillJournalsKilledJobs(t *testing.T) {
	journal := &ctxJournal{}
	svc := New(registry.New(registry.WithJournal(journal)), invokerFunc(func(ctx context.Context, d job.Descriptor) job.Result {
		<-ctx.Done()
		res := job.NewResult(d)
		res.Kind = job.KindTimeout
		res.Error = "worker cancelled: " + ctx.Err().Error()
		return res
	}), nil)

	j, err := svc.Submit(descriptor())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Close(ctx), context.DeadlineExceeded)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	recErr, ok := journal.errs[j.ID]
	require.True(t, ok, "killed job was not journaled")
	assert.NoError(t, recErr)
}
