package tui

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/launchpad/internal/events"
	"github.com/mattjoyce/launchpad/internal/job"
)

func lifecycleEvent(t *testing.T, id int64, typ string, c events.JobChange) eventMsg {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	return eventMsg(events.Event{ID: id, Type: typ, At: time.Now(), Data: data})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestMonitorFoldsLifecycleEvents(t *testing.T) {
	m := NewMonitor(context.Background(), NewClient("http://127.0.0.1:0", ""))

	m = update(t, m, jobsMsg{{
		ID:         "11111111-aaaa",
		Descriptor: job.Descriptor{Topic: "Apple", Sources: []string{"a", "b"}},
		Status:     job.StatusQueued,
	}})
	require.Len(t, m.jobTable.Rows(), 1)
	assert.Equal(t, "11111111", m.jobTable.Rows()[0][3])
	assert.Equal(t, "2", m.jobTable.Rows()[0][5])

	m = update(t, m, lifecycleEvent(t, 1, events.TypeJobRunning, events.JobChange{
		JobID: "11111111-aaaa", Topic: "Apple", Status: job.StatusRunning,
	}))
	require.NotNil(t, m.jobs[0].StartedAt)
	assert.Equal(t, "running", m.jobTable.Rows()[0][4])

	// Unknown jobs are added from the event payload, newest on top.
	m = update(t, m, lifecycleEvent(t, 2, events.TypeJobQueued, events.JobChange{
		JobID: "22222222-bbbb", Ticker: "TSLA", Topic: "Tesla", Status: job.StatusQueued,
	}))
	require.Len(t, m.jobTable.Rows(), 2)
	assert.Equal(t, "TSLA", m.jobTable.Rows()[0][1])
	assert.Equal(t, "22222222-bbbb", m.selectedID())

	code := 1
	m = update(t, m, lifecycleEvent(t, 3, events.TypeJobFailed, events.JobChange{
		JobID: "11111111-aaaa", Topic: "Apple", Status: job.StatusFailed, Error: "exit status 1", ExitCode: &code,
	}))
	assert.Equal(t, job.StatusFailed, m.jobs[0].Status)
	assert.Equal(t, "exit status 1", m.jobs[0].Error)
	assert.NotEqual(t, "-", m.jobTable.Rows()[1][6])

	m = update(t, m, lifecycleEvent(t, 4, events.TypeJobDeleted, events.JobChange{
		JobID: "22222222-bbbb", Status: job.StatusQueued,
	}))
	require.Len(t, m.jobTable.Rows(), 1)

	assert.Equal(t, int64(4), m.lastEventID)
	assert.Len(t, m.eventLog, 4)
	assert.Equal(t, events.TypeJobDeleted, m.eventLog[0].Type)
}

func TestMonitorStreamReconnect(t *testing.T) {
	m := NewMonitor(context.Background(), NewClient("http://127.0.0.1:0", ""))

	next, cmd := m.Update(streamClosedMsg{lastID: 12})
	m = next.(Model)
	assert.False(t, m.connected)
	assert.Equal(t, int64(12), m.lastEventID)
	assert.NotNil(t, cmd)

	m = update(t, m, reconnectMsg{})
	assert.True(t, m.connected)
}

func TestMonitorStopsReconnectingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMonitor(ctx, NewClient("http://127.0.0.1:0", ""))
	cancel()

	_, cmd := m.Update(streamClosedMsg{err: context.Canceled})
	assert.Nil(t, cmd)
}

func TestMonitorQuit(t *testing.T) {
	m := NewMonitor(context.Background(), NewClient("http://127.0.0.1:0", ""))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestMonitorView(t *testing.T) {
	m := NewMonitor(context.Background(), NewClient("http://127.0.0.1:0", ""))
	assert.Equal(t, "Initializing...", m.View())

	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, healthMsg{Status: "healthy", Service: "launchpad", UptimeSeconds: 90})
	m = update(t, m, lifecycleEvent(t, 1, events.TypeJobQueued, events.JobChange{
		JobID: "33333333-cccc", Topic: "Nvidia", Status: job.StatusQueued,
	}))

	view := m.View()
	assert.Contains(t, view, "HEALTHY")
	assert.Contains(t, view, "1m30s")
	assert.Contains(t, view, "Nvidia")
	assert.Contains(t, view, "job.queued")
}

func TestDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)

	assert.Equal(t, "-", duration(job.Job{}, end))
	assert.Equal(t, "1.5s", duration(job.Job{StartedAt: &start}, end))
	assert.Equal(t, "1.5s", duration(job.Job{StartedAt: &start, CompletedAt: &end}, end.Add(time.Hour)))
}
