package textproc

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTaskRunning is returned when a task is started while another runs.
var ErrTaskRunning = errors.New("text task already running")

// TaskKind selects the work a Task performs.
type TaskKind string

const (
	TaskProcess TaskKind = "process"
	TaskArticle TaskKind = "article"
)

// Task is one unit of text work.
type Task struct {
	Kind  TaskKind     `json:"kind"`
	Text  string       `json:"text"`
	UseAI bool         `json:"useAi"`
	Style ArticleStyle `json:"style,omitempty"`
}

// EventKind tags a text task event.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is one notification from a running task. Completed events carry
// Processed or Article depending on the task kind.
type Event struct {
	Kind      EventKind `json:"kind"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Processed *Result   `json:"processed,omitempty"`
	Article   *Article  `json:"article,omitempty"`
	Err       error     `json:"-"`
}

// Runner executes one text task at a time on its own goroutine. It shares
// nothing with the transcription batch.
type Runner struct {
	processor *Processor
	articles  *ArticleGenerator

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner builds a runner over both text services.
func NewRunner(processor *Processor, articles *ArticleGenerator) *Runner {
	return &Runner{processor: processor, articles: articles}
}

// Start launches task. The channel yields progress events and then exactly
// one terminal event before closing; callers must drain it.
func (r *Runner) Start(ctx context.Context, task Task) (<-chan Event, error) {
	switch task.Kind {
	case TaskProcess, TaskArticle:
	default:
		return nil, fmt.Errorf("unknown text task %q", task.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return nil, ErrTaskRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done

	events := make(chan Event, 8)
	go func() {
		defer close(done)
		defer close(events)
		defer r.finish(cancel)
		progress := func(pct int, msg string) {
			events <- Event{Kind: EventProgress, Percent: pct, Message: msg}
		}
		events <- r.execute(runCtx, task, progress)
	}()
	return events, nil
}

func (r *Runner) execute(ctx context.Context, task Task, progress ProgressFunc) Event {
	var ev Event
	var err error
	switch task.Kind {
	case TaskArticle:
		var article Article
		article, err = r.articles.Generate(ctx, task.Text, task.Style, progress)
		ev = Event{Kind: EventCompleted, Percent: 100, Article: &article}
	default:
		var res Result
		res, err = r.processor.Process(ctx, task.Text, task.UseAI, progress)
		ev = Event{Kind: EventCompleted, Percent: 100, Processed: &res}
	}
	switch {
	case ctx.Err() != nil:
		return Event{Kind: EventCancelled, Message: "Cancelled", Err: ctx.Err()}
	case err != nil:
		return Event{Kind: EventFailed, Message: err.Error(), Err: err}
	}
	return ev
}

func (r *Runner) finish(cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
}

// IsRunning reports whether a task is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// Cancel stops the active task and waits for it to exit. The caller must
// keep draining the task's channel while Cancel blocks.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return false
	}
	cancel()
	<-done
	return true
}
