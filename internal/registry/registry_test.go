package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/launchpad/internal/job"
	"github.com/mattjoyce/launchpad/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func descriptor(source string) job.Descriptor {
	return job.Descriptor{
		Ticker:   "AAPL",
		Topic:    "Apple Inc",
		Goal:     "Monitor Apple stock",
		Sources:  []string{source},
		Metadata: map[string]any{"maxStepsPerSource": 10},
	}
}

type memJournal struct {
	mu   sync.Mutex
	jobs []job.Job
	err  error
}

func (m *memJournal) Record(_ context.Context, j job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, j)
	return m.err
}

func TestSubmitThenGet(t *testing.T) {
	r := New()

	j, err := r.Submit(descriptor("https://a.test"))
	require.NoError(t, err)
	require.NotEmpty(t, j.ID)

	got, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, got.Status)
	assert.Equal(t, "AAPL", got.Ticker)
	assert.Equal(t, "Apple Inc", got.Topic)
	assert.Equal(t, "Monitor Apple stock", got.Goal)
	assert.Equal(t, []string{"https://a.test"}, got.Sources)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Result)
}

func TestSubmitRejectsEmptySources(t *testing.T) {
	r := New()
	d := descriptor("x")
	d.Sources = []string{}

	_, err := r.Submit(d)

	var verr *job.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sources", verr.Field)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.List())
}

func TestSubmitRejectsMissingTicker(t *testing.T) {
	r := New()
	d := descriptor("https://a.test")
	d.Ticker = ""

	_, err := r.Submit(d)
	require.ErrorIs(t, err, job.ErrValidation)
	assert.Equal(t, 0, r.Len())
}

func TestSubmitCopiesDescriptor(t *testing.T) {
	r := New()
	d := descriptor("https://a.test")
	j, err := r.Submit(d)
	require.NoError(t, err)

	d.Sources[0] = "mutated"
	d.Metadata["maxStepsPerSource"] = 99

	got, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://a.test", got.Sources[0])
	assert.Equal(t, 10, got.Metadata["maxStepsPerSource"])
}

func TestGetNotFound(t *testing.T) {
	_, err := New().Get("missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestListInsertionOrder(t *testing.T) {
	r := New()
	var ids []string
	for i := range 5 {
		j, err := r.Submit(descriptor(fmt.Sprintf("https://%d.test", i)))
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}

	require.NoError(t, r.Delete(ids[2]))

	list := r.List()
	require.Len(t, list, 4)
	assert.Equal(t, []string{ids[0], ids[1], ids[3], ids[4]},
		[]string{list[0].ID, list[1].ID, list[2].ID, list[3].ID})
}

func TestDelete(t *testing.T) {
	r := New()
	j, err := r.Submit(descriptor("https://a.test"))
	require.NoError(t, err)

	require.NoError(t, r.Delete(j.ID))
	assert.ErrorIs(t, r.Delete(j.ID), job.ErrNotFound)
	assert.ErrorIs(t, r.Delete("never-existed"), job.ErrNotFound)
	assert.Empty(t, r.List())
}

func TestLifecycle(t *testing.T) {
	base := time.Date(2025, 11, 8, 12, 0, 0, 0, time.UTC)
	tick := 0
	r := New(WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	j, err := r.Submit(descriptor("https://a.test"))
	require.NoError(t, err)

	running, err := r.MarkRunning(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)
	assert.Nil(t, running.Result)

	res := job.Result{Success: true, ExitCode: 0, Stdout: "ok"}
	done, err := r.MarkCompleted(context.Background(), j.ID, res)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.CompletedAt.Before(*done.StartedAt))
	assert.True(t, done.StartedAt.After(done.CreatedAt))
	require.NotNil(t, done.Result)
	assert.Equal(t, "ok", done.Result.Stdout)
}

func TestTransitionsOutOfTerminalAreRejected(t *testing.T) {
	r := New()
	j, err := r.Submit(descriptor("https://a.test"))
	require.NoError(t, err)

	_, err = r.MarkCompleted(context.Background(), j.ID, job.Result{})
	require.ErrorIs(t, err, job.ErrInvalidTransition, "queued cannot jump to completed")

	_, err = r.MarkRunning(j.ID)
	require.NoError(t, err)
	_, err = r.MarkRunning(j.ID)
	require.ErrorIs(t, err, job.ErrInvalidTransition)

	failed, err := r.MarkFailed(context.Background(), j.ID, job.Result{Stderr: "boom"}, "worker exited with code 1")
	require.NoError(t, err)
	firstCompleted := *failed.CompletedAt

	_, err = r.MarkCompleted(context.Background(), j.ID, job.Result{Success: true})
	var terr *job.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, job.StatusFailed, terr.From)

	got, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "worker exited with code 1", got.Error)
	assert.Equal(t, "boom", got.Result.Stderr, "partial output kept alongside the error")
	assert.Equal(t, firstCompleted, *got.CompletedAt, "completed_at is never overwritten")
}

func TestTransitionAfterDeleteIsDiscarded(t *testing.T) {
	journal := &memJournal{}
	r := New(WithJournal(journal))
	j, err := r.Submit(descriptor("https://a.test"))
	require.NoError(t, err)
	_, err = r.MarkRunning(j.ID)
	require.NoError(t, err)

	require.NoError(t, r.Delete(j.ID))

	_, err = r.MarkCompleted(context.Background(), j.ID, job.Result{Success: true})
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.Equal(t, 0, r.Len(), "result of a deleted job is not re-inserted")
	assert.Empty(t, journal.jobs)
}

func TestJournalReceivesTerminalSnapshots(t *testing.T) {
	journal := &memJournal{err: errors.New("disk full")}
	r := New(WithJournal(journal))

	j, err := r.Submit(descriptor("https://a.test"))
	require.NoError(t, err)
	_, err = r.MarkRunning(j.ID)
	require.NoError(t, err)
	_, err = r.MarkFailed(context.Background(), j.ID, job.Result{}, "timeout")
	require.NoError(t, err, "journal errors never leak into job state")

	require.Len(t, journal.jobs, 1)
	assert.Equal(t, j.ID, journal.jobs[0].ID)
	assert.Equal(t, job.StatusFailed, journal.jobs[0].Status)
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	r := New()
	j, err := r.Submit(descriptor("https://a.test"))
	require.NoError(t, err)

	snap, err := r.Get(j.ID)
	require.NoError(t, err)
	snap.Sources[0] = "mutated"
	snap.Status = job.StatusFailed

	got, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://a.test", got.Sources[0])
	assert.Equal(t, job.StatusQueued, got.Status)
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	const n = 50

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := r.Submit(descriptor(fmt.Sprintf("https://%d.test", i)))
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			if _, err := r.MarkRunning(j.ID); err != nil {
				t.Errorf("running: %v", err)
				return
			}
			_ = r.List()
			if _, err := r.MarkCompleted(context.Background(), j.ID, job.Result{Success: true}); err != nil {
				t.Errorf("completed: %v", err)
			}
		}()
	}
	wg.Wait()

	list := r.List()
	require.Len(t, list, n)
	seen := make(map[string]bool, n)
	for _, j := range list {
		assert.False(t, seen[j.ID], "duplicate id %s", j.ID)
		seen[j.ID] = true
		assert.Equal(t, job.StatusCompleted, j.Status)
	}
}

func TestTimestampsNeverPrecedeCreation(t *testing.T) {
	base := time.Date(2025, 11, 8, 12, 0, 0, 0, time.UTC)
	// The clock steps backwards after the job is created.
	times := []time.Time{base, base.Add(-time.Minute), base.Add(-2 * time.Minute)}
	r := New(WithClock(func() time.Time {
		now := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return now
	}))

	j, err := r.Submit(descriptor("https://a.test"))
	require.NoError(t, err)

	running, err := r.MarkRunning(j.ID)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	assert.Equal(t, base, *running.StartedAt)

	done, err := r.MarkFailed(context.Background(), j.ID, job.Result{ExitCode: 1}, "exit 1")
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, base, *done.CompletedAt)
	assert.False(t, done.StartedAt.Before(done.CreatedAt))
	assert.False(t, done.CompletedAt.Before(*done.StartedAt))
}
