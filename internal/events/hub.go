// Package events fans dispatcher lifecycle events out to in-process
// subscribers such as the SSE endpoint.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the dispatcher.
const (
	TriggerReceived   = "trigger.received"
	TriggerRejected   = "trigger.rejected"
	JobWaiting        = "job.waiting"
	JobLaunched       = "job.launched"
	JobCompleted      = "job.completed"
	JobFailed         = "job.failed"
	JobTimedOut       = "job.timed_out"
	JobAbandoned      = "job.abandoned"
	DispatcherStarted = "dispatcher.started"
	DispatcherStopped = "dispatcher.stopped"
)

// subscriberBuffer is how far a subscriber may fall behind before it
// starts missing events.
const subscriberBuffer = 128

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// JobPayload is the data carried by trigger.* and job.* events.
type JobPayload struct {
	JobID      string  `json:"job_id,omitempty"`
	Path       string  `json:"path,omitempty"`
	JobName    string  `json:"job_name,omitempty"`
	Args       string  `json:"args,omitempty"`
	Marker     string  `json:"marker,omitempty"`
	PID        int     `json:"pid,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Hub keeps the last few events for late joiners and pushes new ones to
// live subscribers without ever blocking the publisher.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	backlog []Event
	limit   int
	subs    map[*subscriber]struct{}
}

// NewHub returns a Hub that retains up to backlog events.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = 256
	}
	return &Hub{
		backlog: make([]Event, 0, backlog),
		limit:   backlog,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish records an event of the given type. data is marshalled to JSON;
// nil or unmarshalable data becomes {}.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}

	if len(h.backlog) == h.limit {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.limit-1]
	}
	h.backlog = append(h.backlog, ev)

	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of events published from now on. The returned
// func unsubscribes and closes the channel; calling it twice is safe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			close(s.ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Since returns retained events with ID greater than lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, ev := range h.backlog {
		if ev.ID > lastID {
			return append([]Event(nil), h.backlog[i:]...)
		}
	}
	return nil
}
