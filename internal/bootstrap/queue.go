package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"batch-transcriber/internal/domain"
)

// AddFiles queues paths and returns how many were accepted.
func (a *App) AddFiles(paths []string) int {
	return a.Batch.AddFiles(paths)
}

// AddFilesFromDialog opens the multi-select picker and queues the choice.
func (a *App) AddFilesFromDialog() (int, error) {
	paths, err := a.PickInputFiles()
	if err != nil {
		return 0, err
	}
	return a.Batch.AddFiles(paths), nil
}

// RemoveItem drops the queue entry at index unless it is processing.
func (a *App) RemoveItem(index int) bool {
	return a.Batch.Remove(index)
}

// ClearQueue cancels any run and empties the queue.
func (a *App) ClearQueue() {
	a.Batch.Clear()
}

// ClearCompleted drops finished entries.
func (a *App) ClearCompleted() {
	a.Batch.ClearCompleted()
}

// QueueItems returns a snapshot of the queue.
func (a *App) QueueItems() []domain.JobItem {
	return a.Batch.Items()
}

// BatchRunning reports whether the queue worker is active.
func (a *App) BatchRunning() bool {
	return a.Batch.IsRunning()
}

// StartBatch processes every pending item with the current settings.
func (a *App) StartBatch() error {
	settings, err := a.loadSettings()
	if err != nil {
		return err
	}
	a.currentServices(settings)
	if err := a.Batch.Start(context.Background(), settings); err != nil {
		return err
	}
	a.log.Info().Int("items", a.Batch.PendingCount()).Msg("batch queued for processing")
	return nil
}

// CancelBatch stops the queue and waits for the worker to exit.
func (a *App) CancelBatch() error {
	return a.Batch.Cancel()
}

// ExportBatch writes every completed item to the output directory. An empty
// format uses the configured default.
func (a *App) ExportBatch(format string) ([]string, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return nil, err
	}
	if settings.OutputDir == "" {
		return nil, fmt.Errorf("output directory is not configured")
	}
	format = strings.TrimSpace(format)
	if format == "" {
		format = settings.ExportFormat
	}
	return a.Batch.ExportAll(settings.OutputDir, format)
}
