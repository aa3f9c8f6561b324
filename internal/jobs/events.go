package jobs

import (
	"sync"
	"time"

	"batch-transcriber/internal/domain"
)

// EventType classifies messages emitted by the batch, the one-off job, and
// the text processing worker.
type EventType string

const (
	EventItemStarted   EventType = "item_started"
	EventItemProgress  EventType = "item_progress"
	EventItemFinished  EventType = "item_finished"
	EventItemError     EventType = "item_error"
	EventItemCancelled EventType = "item_cancelled"
	EventBatchFinished EventType = "batch_finished"

	EventJobProgress  EventType = "job_progress"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"

	EventTextProgress  EventType = "text_progress"
	EventTextCompleted EventType = "text_completed"
	EventTextFailed    EventType = "text_failed"
	EventTextCancelled EventType = "text_cancelled"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq       int64             `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	JobID     string            `json:"jobId,omitempty"`
	Index     int               `json:"index"`
	ItemID    string            `json:"itemId,omitempty"`
	Path      string            `json:"path,omitempty"`
	Status    domain.ItemStatus `json:"status,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Percent   int               `json:"percent"`
	Message   string            `json:"message,omitempty"`
	Command   string            `json:"command,omitempty"`
	ExitCode  int               `json:"exitCode,omitempty"`
	Stderr    string            `json:"stderr,omitempty"`
	Completed int               `json:"completed,omitempty"`
	Failed    int               `json:"failed,omitempty"`
	Cancelled int               `json:"cancelled,omitempty"`
}

// Observer receives events synchronously as they are published. It must not
// call back into the Batch that emitted the event.
type Observer func(Event)

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Last returns the highest sequence published so far.
func (b *EventBus) Last() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
