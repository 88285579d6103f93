// Package audit keeps an append-only trail of score job lifecycle events.
package audit

import (
	"context"
	"sync"
	"time"
)

// EventType names a lifecycle step.
type EventType string

const (
	EventCreated        EventType = "created"
	EventEnqueued       EventType = "enqueued"
	EventRunning        EventType = "running"
	EventDone           EventType = "done"
	EventRetryScheduled EventType = "retry_scheduled"
	EventError          EventType = "error"
	EventStalled        EventType = "stalled"
)

// Event is one audit row.
type Event struct {
	JobID  string    `json:"job_id"`
	Type   EventType `json:"event"`
	Detail string    `json:"detail"`
	At     time.Time `json:"ts"`
}

// Recorder appends events. Failures to record never fail the caller's operation;
// callers log them.
type Recorder interface {
	Record(ctx context.Context, jobID string, event EventType, detail string) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, string, EventType, string) error { return nil }

// Memory keeps events in process. It backs tests and single-binary setups.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Record(_ context.Context, jobID string, event EventType, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{JobID: jobID, Type: event, Detail: detail, At: time.Now().UTC()})
	return nil
}

// Events returns the recorded events for jobID in order. An empty jobID returns all.
func (m *Memory) Events(jobID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if jobID == "" || e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Types is Events reduced to the event types.
func (m *Memory) Types(jobID string) []EventType {
	events := m.Events(jobID)
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
