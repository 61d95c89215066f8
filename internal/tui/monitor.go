// Package tui implements `launchpad watch`, a terminal monitor for a running
// job service.
package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/launchpad/internal/api"
	"github.com/mattjoyce/launchpad/internal/events"
	"github.com/mattjoyce/launchpad/internal/job"
)

const (
	pollInterval      = 2 * time.Second
	reconnectInterval = 2 * time.Second
	maxEventLog       = 50
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// --- Types ---

type Model struct {
	ctx    context.Context
	client *Client

	width  int
	height int

	jobs        []job.Job
	rowIDs      []string
	health      api.HealthResponse
	connected   bool
	lastEventID int64
	eventLog    []events.Event
	hubEvents   chan events.Event
	lastErr     error

	jobTable table.Model
}

type (
	jobsMsg         []job.Job
	healthMsg       api.HealthResponse
	eventMsg        events.Event
	deletedMsg      string
	reconnectMsg    struct{}
	tickMsg         time.Time
	errMsg          struct{ err error }
	streamClosedMsg struct {
		lastID int64
		err    error
	}
)

// --- Init ---

// NewMonitor builds the model. ctx bounds the event stream and every request.
func NewMonitor(ctx context.Context, client *Client) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Ticker", Width: 8},
			{Title: "Topic", Width: 24},
			{Title: "ID", Width: 10},
			{Title: "Status", Width: 10},
			{Title: "Sources", Width: 7},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		ctx:       ctx,
		client:    client,
		connected: true,
		hubEvents: make(chan events.Event, 100),
		jobTable:  t,
	}
}

// Run starts the monitor and blocks until the user quits or ctx is done.
func Run(ctx context.Context, client *Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewMonitor(ctx, client), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribe(0),
		m.receiveNextEvent(),
		m.fetchJobs(),
		m.fetchHealth(),
		tick(),
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(m.fetchJobs(), m.fetchHealth())
		case "x":
			if id := m.selectedID(); id != "" {
				return m, m.deleteJob(id)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetWidth(m.width - 6)
		if h := m.height/2 - 4; h > 3 {
			m.jobTable.SetHeight(h)
		}
		return m, nil

	case jobsMsg:
		m.jobs = []job.Job(msg)
		m.updateTable()
		return m, nil

	case healthMsg:
		m.health = api.HealthResponse(msg)
		return m, nil

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case deletedMsg:
		m.removeJob(string(msg))
		m.updateTable()
		return m, nil

	case streamClosedMsg:
		m.connected = false
		if msg.lastID > m.lastEventID {
			m.lastEventID = msg.lastID
		}
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.lastErr = msg.err
		}
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, tea.Tick(reconnectInterval, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		m.connected = true
		return m, tea.Batch(m.subscribe(m.lastEventID), m.fetchJobs())

	case tickMsg:
		m.updateTable()
		return m, tea.Batch(m.fetchJobs(), m.fetchHealth(), tick())

	case errMsg:
		m.lastErr = msg.err
		return m, nil
	}

	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

// handleEvent folds one lifecycle event into the local job list so the
// table moves without waiting for the next poll.
func (m *Model) handleEvent(e events.Event) {
	if e.ID > m.lastEventID {
		m.lastEventID = e.ID
	}
	m.connected = true

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	var change events.JobChange
	if err := json.Unmarshal(e.Data, &change); err != nil || change.JobID == "" {
		return
	}

	if e.Type == events.TypeJobDeleted {
		m.removeJob(change.JobID)
		return
	}

	idx := -1
	for i := range m.jobs {
		if m.jobs[i].ID == change.JobID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.jobs = append(m.jobs, job.Job{
			ID:         change.JobID,
			Descriptor: job.Descriptor{Ticker: change.Ticker, Topic: change.Topic},
			Status:     job.StatusQueued,
			CreatedAt:  e.At,
		})
		idx = len(m.jobs) - 1
	}

	j := &m.jobs[idx]
	j.Status = change.Status
	j.Error = change.Error
	at := e.At
	switch change.Status {
	case job.StatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = &at
		}
	case job.StatusCompleted, job.StatusFailed:
		if j.CompletedAt == nil {
			j.CompletedAt = &at
		}
	}
}

func (m *Model) removeJob(id string) {
	for i := range m.jobs {
		if m.jobs[i].ID == id {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			return
		}
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.jobs))
	ids := make([]string, 0, len(m.jobs))

	// Newest first.
	for i := len(m.jobs) - 1; i >= 0; i-- {
		j := m.jobs[i]
		rows = append(rows, table.Row{
			statusSymbol(j.Status),
			j.Ticker,
			j.Topic,
			shortID(j.ID),
			string(j.Status),
			fmt.Sprintf("%d", len(j.Sources)),
			duration(j, time.Now()),
		})
		ids = append(ids, j.ID)
	}

	m.rowIDs = ids
	m.jobTable.SetRows(rows)
}

func (m Model) selectedID() string {
	i := m.jobTable.Cursor()
	if i < 0 || i >= len(m.rowIDs) {
		return ""
	}
	return m.rowIDs[i]
}

func statusSymbol(s job.Status) string {
	switch s {
	case job.StatusQueued:
		return statusQueued.Render("○")
	case job.StatusRunning:
		return statusRunning.Render("◉")
	case job.StatusCompleted:
		return statusOK.Render("●")
	case job.StatusFailed:
		return statusFailed.Render("∅")
	default:
		return "○"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func duration(j job.Job, now time.Time) string {
	if j.StartedAt == nil {
		return "-"
	}
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt).Round(100 * time.Millisecond).String()
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	jobsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Jobs"),
			m.jobTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	parts := []string{header, jobsView, eventsView}
	if m.lastErr != nil {
		parts = append(parts, statusFailed.Render(" error: "+m.lastErr.Error()))
	}
	parts = append(parts, helpStyle.Render(" [q] Quit • [r] Refresh • [x] Delete job • [↑/↓] Scroll Jobs"))

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	status := statusQueued.Render("UNKNOWN")
	switch {
	case m.health.Status == "healthy":
		status = statusOK.Render("HEALTHY")
	case m.health.Status != "":
		status = statusFailed.Render(strings.ToUpper(m.health.Status))
	}

	stream := statusOK.Render("live")
	if !m.connected {
		stream = statusFailed.Render("reconnecting")
	}

	var running, queued int
	for _, j := range m.jobs {
		switch j.Status {
		case job.StatusRunning:
			running++
		case job.StatusQueued:
			queued++
		}
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	items := []string{
		fmt.Sprintf("%s: %s", nonEmpty(m.health.Service, "launchpad"), status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Jobs: %d (%d running, %d queued)", len(m.jobs), running, queued),
		fmt.Sprintf("Stream: %s", stream),
	}

	cols := make([]string, len(items))
	for i, item := range items {
		cols[i] = lipgloss.NewStyle().Width((m.width - 4) / len(items)).Render(item)
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s | %-13s | %s", e.At.Format("15:04:05"), e.Type, describe(e)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func describe(e events.Event) string {
	var c events.JobChange
	if err := json.Unmarshal(e.Data, &c); err != nil || c.JobID == "" {
		return string(e.Data)
	}
	label := c.Topic
	if c.Ticker != "" {
		label = c.Ticker + " " + label
	}
	out := shortID(c.JobID) + " " + label
	if c.ExitCode != nil {
		out += fmt.Sprintf(" exit=%d", *c.ExitCode)
	}
	if c.Error != "" {
		out += " " + c.Error
	}
	return out
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// --- Commands ---

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// subscribe follows the event stream into hubEvents and reports when the
// connection ends.
func (m Model) subscribe(lastID int64) tea.Cmd {
	ctx, ch := m.ctx, m.hubEvents
	return func() tea.Msg {
		last, err := m.client.Stream(ctx, lastID, func(ev events.Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
		return streamClosedMsg{lastID: last, err: err}
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	ctx, ch := m.ctx, m.hubEvents
	return func() tea.Msg {
		select {
		case ev := <-ch:
			return eventMsg(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) fetchJobs() tea.Cmd {
	return func() tea.Msg {
		jobs, err := m.client.Jobs(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return jobsMsg(jobs)
	}
}

func (m Model) fetchHealth() tea.Cmd {
	return func() tea.Msg {
		h, err := m.client.Health(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return healthMsg(h)
	}
}

func (m Model) deleteJob(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.client.Delete(m.ctx, id); err != nil {
			return errMsg{err}
		}
		return deletedMsg(id)
	}
}
