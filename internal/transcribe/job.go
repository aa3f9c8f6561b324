package transcribe

import (
	"context"
	"errors"

	"batch-transcriber/internal/domain"
)

// EventKind tags a single-job event.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Terminal reports whether no further events follow.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventFailed || k == EventCancelled
}

// Event is one notification from a running job.
type Event struct {
	Kind    EventKind                   `json:"kind"`
	Percent int                         `json:"percent"`
	Stage   Stage                       `json:"stage,omitempty"`
	Message string                      `json:"message,omitempty"`
	Result  *domain.TranscriptionResult `json:"result,omitempty"`
	Err     error                       `json:"-"`
}

// Start runs req in its own goroutine. The returned channel yields zero or
// more progress events followed by exactly one terminal event, then closes.
// Callers must drain it.
func (p *Pipeline) Start(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 8)
	go func() {
		defer close(events)
		result, err := p.Run(ctx, req, func(pct int, stage Stage, msg string) {
			events <- Event{Kind: EventProgress, Percent: pct, Stage: stage, Message: msg}
		})
		events <- terminalEvent(result, err)
	}()
	return events
}

func terminalEvent(result domain.TranscriptionResult, err error) Event {
	switch {
	case errors.Is(err, ErrCancelled):
		return Event{Kind: EventCancelled, Message: "Cancelled", Err: err}
	case err != nil:
		ev := Event{Kind: EventFailed, Message: err.Error(), Err: err}
		var pe *PipelineError
		if errors.As(err, &pe) {
			ev.Stage = pe.Stage
		}
		return ev
	default:
		return Event{Kind: EventCompleted, Percent: 100, Stage: StageComplete, Message: "Complete!", Result: &result}
	}
}
