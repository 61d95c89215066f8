// Package events fans job lifecycle changes out to live subscribers and keeps
// a short backlog so reconnecting clients can catch up.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/launchpad/internal/job"
)

const (
	TypeJobQueued    = "job.queued"
	TypeJobRunning   = "job.running"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
	TypeJobDeleted   = "job.deleted"
)

const (
	defaultBacklog   = 256
	subscriberBuffer = 64
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// JobChange is the payload carried by every job.* event. Result is omitted so
// large worker output never travels over the stream; clients fetch it from
// GET /jobs/{id}.
type JobChange struct {
	JobID    string     `json:"job_id"`
	Ticker   string     `json:"ticker,omitempty"`
	Topic    string     `json:"topic"`
	Status   job.Status `json:"status"`
	Error    string     `json:"error,omitempty"`
	ExitCode *int       `json:"exit_code,omitempty"`
}

// ChangeFor builds the payload for j.
func ChangeFor(j job.Job) JobChange {
	c := JobChange{
		JobID:  j.ID,
		Ticker: j.Ticker,
		Topic:  j.Topic,
		Status: j.Status,
		Error:  j.Error,
	}
	if j.Result != nil && j.Status.Terminal() {
		code := j.Result.ExitCode
		c.ExitCode = &code
	}
	return c
}

// TypeFor maps a job status to its event type.
func TypeFor(s job.Status) string {
	switch s {
	case job.StatusRunning:
		return TypeJobRunning
	case job.StatusCompleted:
		return TypeJobCompleted
	case job.StatusFailed:
		return TypeJobFailed
	default:
		return TypeJobQueued
	}
}

// Hub is an in-memory pub/sub backed by a ring buffer.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
	closed    bool
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		ring: make([]Event, backlog),
		subs: make(map[int]chan Event),
	}
}

// Publish never blocks; subscribers whose buffer is full miss the event and
// can recover it through SnapshotSince.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	if h.closed {
		return ev
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// PublishJob emits the event matching j's current status.
func (h *Hub) PublishJob(j job.Job) Event {
	return h.Publish(TypeFor(j.Status), ChangeFor(j))
}

// Subscribe returns a channel of future events and a cancel func that closes
// it. Cancel is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Close ends every subscription. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
