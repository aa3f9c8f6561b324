package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/export"
	"batch-transcriber/internal/transcribe"
)

var (
	// ErrBatchRunning is returned when Start is called during a run.
	ErrBatchRunning = errors.New("batch already running")
	// ErrQueueEmpty is returned when Start is called with no items.
	ErrQueueEmpty = errors.New("batch queue is empty")
	// ErrNoRunningBatch is returned when Cancel finds nothing to stop.
	ErrNoRunningBatch = errors.New("no running batch")
)

// JobStarter launches one single-file job. The returned channel must end
// with exactly one terminal event and then close.
type JobStarter interface {
	Start(ctx context.Context, req transcribe.Request) <-chan transcribe.Event
}

// Batch is a queue of files processed strictly one at a time by a single
// worker goroutine.
type Batch struct {
	runner   JobStarter
	bus      *EventBus
	observer Observer
	exporter func(domain.TranscriptionResult, string, string) error
	stat     func(string) (os.FileInfo, error)
	newID    func() string
	cpus     int
	log      zerolog.Logger

	mu      sync.Mutex
	items   []*domain.JobItem
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// BatchOption customizes a Batch.
type BatchOption func(*Batch)

// WithEventBus publishes every batch event to bus.
func WithEventBus(bus *EventBus) BatchOption {
	return func(b *Batch) { b.bus = bus }
}

// WithObserver registers a synchronous event callback.
func WithObserver(fn Observer) BatchOption {
	return func(b *Batch) { b.observer = fn }
}

// WithLogger sets the batch logger.
func WithLogger(log zerolog.Logger) BatchOption {
	return func(b *Batch) { b.log = log }
}

// WithFileStat replaces the existence check used by Add.
func WithFileStat(fn func(string) (os.FileInfo, error)) BatchOption {
	return func(b *Batch) { b.stat = fn }
}

// WithExporter replaces the writer used by ExportAll and auto-export.
func WithExporter(fn func(result domain.TranscriptionResult, path, format string) error) BatchOption {
	return func(b *Batch) { b.exporter = fn }
}

// WithCPUCount overrides the CPU count used to size engine threads.
func WithCPUCount(n int) BatchOption {
	return func(b *Batch) { b.cpus = n }
}

// NewBatch creates an empty queue backed by runner.
func NewBatch(runner JobStarter, opts ...BatchOption) *Batch {
	b := &Batch{
		runner:   runner,
		exporter: export.Export,
		stat:     os.Stat,
		newID:    uuid.NewString,
		cpus:     runtime.NumCPU(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add queues path. It returns false for missing files and for paths that
// are already queued.
func (b *Batch) Add(path string) bool {
	info, err := b.stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range b.items {
		if item.Path == path {
			return false
		}
	}
	b.items = append(b.items, &domain.JobItem{
		ID:     b.newID(),
		Path:   path,
		Status: domain.ItemPending,
	})
	return true
}

// AddFiles queues every path it can and returns how many were added.
func (b *Batch) AddFiles(paths []string) int {
	added := 0
	for _, path := range paths {
		if b.Add(path) {
			added++
		}
	}
	return added
}

// Remove drops the item at index unless it is being processed.
func (b *Batch) Remove(index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < 0 || index >= len(b.items) {
		return false
	}
	if b.items[index].Status == domain.ItemProcessing {
		return false
	}
	b.items = append(b.items[:index], b.items[index+1:]...)
	return true
}

// Clear empties the queue, cancelling a run first.
func (b *Batch) Clear() {
	if err := b.Cancel(); err != nil && !errors.Is(err, ErrNoRunningBatch) {
		b.log.Warn().Err(err).Msg("cancel before clear")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
}

// ClearCompleted removes every item that reached a terminal state.
func (b *Batch) ClearCompleted() {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.items[:0]
	for _, item := range b.items {
		if !item.Status.Terminal() {
			kept = append(kept, item)
		}
	}
	clear(b.items[len(kept):])
	b.items = kept
}

// Items returns a snapshot of the queue in order.
func (b *Batch) Items() []domain.JobItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.JobItem, len(b.items))
	for i, item := range b.items {
		out[i] = *item
	}
	return out
}

// Results returns the results of all Complete items in queue order.
func (b *Batch) Results() []domain.TranscriptionResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.TranscriptionResult
	for _, item := range b.items {
		if item.Status == domain.ItemComplete && item.Result != nil {
			out = append(out, *item.Result)
		}
	}
	return out
}

// Count returns the number of queued items.
func (b *Batch) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// PendingCount returns the number of items waiting to run.
func (b *Batch) PendingCount() int {
	return b.countStatus(domain.ItemPending)
}

// CompleteCount returns the number of items that finished successfully.
func (b *Batch) CompleteCount() int {
	return b.countStatus(domain.ItemComplete)
}

// ErrorCount returns the number of failed items.
func (b *Batch) ErrorCount() int {
	return b.countStatus(domain.ItemError)
}

func (b *Batch) countStatus(status domain.ItemStatus) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, item := range b.items {
		if item.Status == status {
			n++
		}
	}
	return n
}

// IsRunning reports whether the worker is active.
func (b *Batch) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start resets failed and cancelled items to Pending and processes every
// Pending item in order on a background worker. Complete items are skipped.
func (b *Batch) Start(ctx context.Context, settings domain.Settings) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrBatchRunning
	}
	if len(b.items) == 0 {
		return ErrQueueEmpty
	}
	for _, item := range b.items {
		if item.Status == domain.ItemError || item.Status == domain.ItemCancelled {
			item.Status = domain.ItemPending
			item.Progress = 0
			item.Message = ""
			item.Error = ""
			item.Result = nil
			item.StartedAt = time.Time{}
			item.FinishedAt = time.Time{}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(runCtx, cancel, settings, b.done)
	return nil
}

// Cancel stops the run at the next checkpoint and blocks until the worker
// has exited. Items still Pending are marked Cancelled.
func (b *Batch) Cancel() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrNoRunningBatch
	}
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Wait blocks until the current run, if any, has finished.
func (b *Batch) Wait() {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

// run is the worker loop. It owns the Processing item until its job
// reports a terminal event.
func (b *Batch) run(ctx context.Context, cancel context.CancelFunc, settings domain.Settings, done chan struct{}) {
	defer close(done)
	defer cancel()

	b.log.Info().Int("items", b.Count()).Msg("batch started")
	for ctx.Err() == nil {
		item, ok := b.claimNext()
		if !ok {
			break
		}
		b.processItem(ctx, item, settings)
	}

	if ctx.Err() != nil {
		b.cancelPending()
	}

	b.mu.Lock()
	finished := Event{Type: EventBatchFinished, Index: -1, Percent: 100}
	for _, item := range b.items {
		switch item.Status {
		case domain.ItemComplete:
			finished.Completed++
		case domain.ItemError:
			finished.Failed++
		case domain.ItemCancelled:
			finished.Cancelled++
		}
	}
	b.mu.Unlock()

	b.log.Info().
		Int("completed", finished.Completed).
		Int("failed", finished.Failed).
		Int("cancelled", finished.Cancelled).
		Msg("batch finished")
	b.emit(finished)

	b.mu.Lock()
	b.running = false
	b.cancel = nil
	b.mu.Unlock()
}

// claimNext marks the first Pending item Processing and returns a copy.
func (b *Batch) claimNext() (domain.JobItem, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, item := range b.items {
		if item.Status != domain.ItemPending {
			continue
		}
		item.Status = domain.ItemProcessing
		item.Progress = 0
		item.Message = ""
		item.StartedAt = time.Now().UTC()
		return *item, true
	}
	return domain.JobItem{}, false
}

func (b *Batch) processItem(ctx context.Context, item domain.JobItem, settings domain.Settings) {
	log := b.log.With().Str("item", item.ID).Str("path", item.Path).Logger()
	log.Debug().Msg("item started")
	b.emit(Event{Type: EventItemStarted, Index: b.indexOf(item.ID), ItemID: item.ID, Path: item.Path, Status: domain.ItemProcessing})

	req := transcribe.RequestFromSettings(item.Path, settings, b.cpus)
	var terminal *transcribe.Event
	for ev := range b.runner.Start(ctx, req) {
		if !ev.Kind.Terminal() {
			b.update(item.ID, func(it *domain.JobItem) {
				it.Progress = ev.Percent
				it.Message = ev.Message
			})
			b.emit(Event{
				Type:    EventItemProgress,
				Index:   b.indexOf(item.ID),
				ItemID:  item.ID,
				Path:    item.Path,
				Status:  domain.ItemProcessing,
				Stage:   string(ev.Stage),
				Percent: ev.Percent,
				Message: ev.Message,
			})
			continue
		}
		if terminal == nil {
			terminal = &ev
		}
	}
	if terminal == nil {
		terminal = &transcribe.Event{Kind: transcribe.EventFailed, Message: "job ended without a result"}
	}

	switch terminal.Kind {
	case transcribe.EventCompleted:
		b.update(item.ID, func(it *domain.JobItem) {
			it.Status = domain.ItemComplete
			it.Progress = 100
			it.Message = terminal.Message
			it.Result = terminal.Result
			it.FinishedAt = time.Now().UTC()
		})
		log.Info().Msg("item complete")
		b.emit(Event{Type: EventItemFinished, Index: b.indexOf(item.ID), ItemID: item.ID, Path: item.Path, Status: domain.ItemComplete, Percent: 100})
		b.autoExport(item, terminal.Result, settings, log)
	case transcribe.EventCancelled:
		b.update(item.ID, func(it *domain.JobItem) {
			it.Status = domain.ItemCancelled
			it.Message = terminal.Message
			it.FinishedAt = time.Now().UTC()
		})
		log.Info().Msg("item cancelled")
		b.emit(Event{Type: EventItemCancelled, Index: b.indexOf(item.ID), ItemID: item.ID, Path: item.Path, Status: domain.ItemCancelled})
	default:
		b.update(item.ID, func(it *domain.JobItem) {
			it.Status = domain.ItemError
			it.Error = terminal.Message
			it.Message = ""
			it.FinishedAt = time.Now().UTC()
		})
		log.Warn().Err(terminal.Err).Msg("item failed")
		ev := Event{Type: EventItemError, Index: b.indexOf(item.ID), ItemID: item.ID, Path: item.Path, Status: domain.ItemError, Message: terminal.Message}
		var pe *transcribe.PipelineError
		if errors.As(terminal.Err, &pe) {
			ev.Stage = string(pe.Stage)
			ev.Command = pe.CommandLog.Command
			ev.ExitCode = pe.CommandLog.ExitCode
			ev.Stderr = pe.CommandLog.Stderr
		}
		b.emit(ev)
	}
}

// cancelPending marks every item still waiting as Cancelled.
func (b *Batch) cancelPending() {
	var cancelled []Event
	b.mu.Lock()
	for i, item := range b.items {
		if item.Status != domain.ItemPending {
			continue
		}
		item.Status = domain.ItemCancelled
		cancelled = append(cancelled, Event{Type: EventItemCancelled, Index: i, ItemID: item.ID, Path: item.Path, Status: domain.ItemCancelled})
	}
	b.mu.Unlock()
	for _, ev := range cancelled {
		b.emit(ev)
	}
}

// autoExport writes a finished result when the settings ask for it.
func (b *Batch) autoExport(item domain.JobItem, result *domain.TranscriptionResult, settings domain.Settings, log zerolog.Logger) {
	if !settings.BatchAutoExport || settings.OutputDir == "" || result == nil {
		return
	}
	format := settings.ExportFormat
	if format == "" {
		format = export.KeyTXT
	}
	path, err := b.exportOne(*result, item.Path, settings.OutputDir, format)
	if err != nil {
		log.Warn().Err(err).Str("format", format).Msg("auto-export failed")
		return
	}
	log.Info().Str("output", path).Msg("auto-exported")
}

// ExportAll writes every Complete item to dir in format. Items that fail to
// export are skipped; an unknown format is reported before anything is written.
func (b *Batch) ExportAll(dir, format string) ([]string, error) {
	if _, err := export.Lookup(format); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	b.mu.Lock()
	var done []domain.JobItem
	for _, item := range b.items {
		if item.Status == domain.ItemComplete && item.Result != nil {
			done = append(done, *item)
		}
	}
	b.mu.Unlock()

	var written []string
	for _, item := range done {
		path, err := b.exportOne(*item.Result, item.Path, dir, format)
		if err != nil {
			b.log.Warn().Err(err).Str("item", item.ID).Msg("export skipped")
			continue
		}
		written = append(written, path)
	}
	return written, nil
}

func (b *Batch) exportOne(result domain.TranscriptionResult, inputPath, dir, format string) (string, error) {
	name, err := export.FileName(inputPath, format)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := b.exporter(result, path, format); err != nil {
		return "", err
	}
	return path, nil
}

func (b *Batch) update(id string, fn func(*domain.JobItem)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range b.items {
		if item.ID == id {
			fn(item)
			return
		}
	}
}

// indexOf returns the current position of id, or -1 once it was removed.
func (b *Batch) indexOf(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, item := range b.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (b *Batch) emit(ev Event) {
	if b.bus != nil {
		ev = b.bus.Publish(ev)
	}
	if b.observer != nil {
		b.observer(ev)
	}
}
