// Package bootstrap binds the transcription backends to the Wails desktop
// shell.
package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"batch-transcriber/internal/config"
	"batch-transcriber/internal/diagnostics"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/export"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/logging"
	"batch-transcriber/internal/media"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Frontend event channels.
const (
	BatchEventName = "batch:event"
	JobEventName   = "job:event"
	TextEventName  = "text:event"
)

const eventHistory = 1000

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio and video files",
		Pattern:     media.DialogPattern(),
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the batch queue, the one-off job, the text
// assistant, and UI runtime callbacks.
type App struct {
	Store config.Store
	Jobs  *jobs.Manager
	Batch *jobs.Batch

	log        zerolog.Logger
	assets     fs.FS
	events     *jobs.EventBus
	factory    servicesFactory
	newChecker func() *diagnostics.Checker
	cpus       int

	mu         sync.Mutex
	settings   domain.Settings
	report     domain.DiagnosticReport
	svc        *services
	jobCancel  context.CancelFunc
	jobDone    chan struct{}
	lastResult *jobResult
	runtimeCtx context.Context

	textMu  sync.Mutex
	textRun textRunner
	textOut TextOutput
}

type jobResult struct {
	inputPath string
	result    domain.TranscriptionResult
}

// New builds the application with persisted settings and startup diagnostics.
func New(store config.Store, log zerolog.Logger) (*App, error) {
	return NewWithAssets(store, log, nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(store config.Store, log zerolog.Logger, assets fs.FS) (*App, error) {
	a := newApp(store, log, defaultServices(log))
	a.assets = assets

	settings, err := a.loadSettings()
	if err != nil {
		return nil, err
	}
	report := a.runDiagnostics(context.Background(), settings)
	a.mu.Lock()
	a.report = report
	a.mu.Unlock()
	return a, nil
}

func newApp(store config.Store, log zerolog.Logger, factory servicesFactory) *App {
	a := &App{
		Store:      store,
		Jobs:       jobs.NewManager(),
		log:        logging.Component(log, "app"),
		events:     jobs.NewEventBus(eventHistory),
		factory:    factory,
		newChecker: diagnostics.NewChecker,
		cpus:       goruntime.NumCPU(),
	}
	a.Batch = jobs.NewBatch(pipelineStarter{app: a},
		jobs.WithEventBus(a.events),
		jobs.WithObserver(a.emit),
		jobs.WithLogger(logging.Component(log, "batch")),
		jobs.WithCPUCount(a.cpus),
	)
	return a
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Batch Transcriber",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown stops background work before the window closes.
func (a *App) Shutdown(context.Context) {
	if a.Batch.IsRunning() {
		_ = a.Batch.Cancel()
	}
	_ = a.CancelTranscription()
	_ = a.CancelTextTask()

	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	return a.loadSettings()
}

// SaveSettings normalizes, validates, and persists settings, then refreshes
// diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := config.Validate(normalized); err != nil {
		return domain.Settings{}, err
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.settings = normalized
	a.mu.Unlock()

	report := a.runDiagnostics(context.Background(), normalized)
	a.mu.Lock()
	a.report = report
	a.mu.Unlock()
	return normalized, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report
}

// RefreshDiagnostics reloads settings, drops cached probes, and reruns
// dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return domain.DiagnosticReport{}, err
	}
	if refresh := a.currentServices(settings).refresh; refresh != nil {
		refresh()
	}
	a.resetServices()

	report := a.runDiagnostics(context.Background(), settings)
	a.mu.Lock()
	a.report = report
	a.mu.Unlock()
	return report, nil
}

// ExportFormats lists the transcript formats the UI can offer.
func (a *App) ExportFormats() []export.Format {
	return export.Formats()
}

// PickInputFile opens a native file dialog for a single media file.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select audio or video file",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// PickInputFiles opens a multi-select file dialog for queueing.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	return wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Add files to queue",
		Filters: mediaDialogFilter,
	})
}

// PickModelDirectory opens a native directory picker for model folders.
func (a *App) PickModelDirectory() (string, error) {
	return a.pickDirectory("Select model directory")
}

// PickOutputDirectory opens a native directory picker for transcript exports.
func (a *App) PickOutputDirectory() (string, error) {
	return a.pickDirectory("Select output directory")
}

func (a *App) pickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: title,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}
	return openInFileManager(openPath)
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// loadSettings reads the store and caches the result for later snapshots.
func (a *App) loadSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
	return settings, nil
}

// currentServices returns the service graph for settings, rebuilding it
// when a relevant field changed.
func (a *App) currentServices(settings domain.Settings) *services {
	key := servicesKey(settings)

	a.mu.Lock()
	current := a.svc
	a.mu.Unlock()
	if current != nil && current.key == key {
		return current
	}
	if current != nil {
		a.log.Debug().Msg("settings changed, rebuilding backends")
	}

	// Building may probe the diarization sidecar, so it runs unlocked.
	svc := a.factory(settings)
	svc.key = key

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.svc != current && a.svc != nil && a.svc.key == key {
		return a.svc
	}
	a.svc = svc
	return svc
}

// resetServices drops the current graph so the next use rebuilds it.
func (a *App) resetServices() {
	a.mu.Lock()
	a.svc = nil
	a.mu.Unlock()
}

// activeServices returns the graph built from the last settings snapshot.
func (a *App) activeServices() *services {
	a.mu.Lock()
	settings := a.settings
	a.mu.Unlock()
	return a.currentServices(settings)
}

func (a *App) runDiagnostics(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	svc := a.currentServices(settings)
	checker := a.newChecker()
	if svc.diarizer != nil {
		checker.WithDiarizer(svc.diarizer)
	}
	if svc.llm != nil {
		checker.WithTextAssistant(svc.llm)
	}
	report := checker.Run(ctx, settings)
	if report.HasFailures {
		a.log.Warn().Msg("diagnostics reported failures")
	}
	return report
}

// publish stores a job or text event and forwards it to the UI.
func (a *App) publish(event jobs.Event) {
	a.emit(a.events.Publish(event))
}

// emit pushes an already sequenced event to the frontend.
func (a *App) emit(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, eventName(event.Type), event)
	}
}

// eventName routes an event type to its frontend channel.
func eventName(t jobs.EventType) string {
	switch {
	case strings.HasPrefix(string(t), "job_"):
		return JobEventName
	case strings.HasPrefix(string(t), "text_"):
		return TextEventName
	default:
		return BatchEventName
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and fills empty choices with defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()

	settings.ModelsDir = strings.TrimSpace(settings.ModelsDir)
	settings.ModelName = strings.TrimSpace(settings.ModelName)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.Language = strings.TrimSpace(settings.Language)
	settings.HFToken = strings.TrimSpace(settings.HFToken)
	settings.DiarizationURL = strings.TrimSpace(settings.DiarizationURL)
	settings.LMStudioURL = strings.TrimSpace(settings.LMStudioURL)
	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	settings.WhisperPath = strings.TrimSpace(settings.WhisperPath)

	if settings.Language == "" {
		settings.Language = "auto"
	}
	if settings.ModelName == "" {
		settings.ModelName = defaults.ModelName
	}
	if settings.PerformanceMode == "" {
		settings.PerformanceMode = defaults.PerformanceMode
	}
	if settings.ExportFormat == "" {
		settings.ExportFormat = defaults.ExportFormat
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
