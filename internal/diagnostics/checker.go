package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/engine"
	"batch-transcriber/internal/execx"
)

const minTokenLength = 10

// Prober reports whether an optional backend is reachable.
type Prober interface {
	IsAvailable(ctx context.Context) bool
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) bool

// IsAvailable calls f.
func (f ProbeFunc) IsAvailable(ctx context.Context) bool { return f(ctx) }

// Checker validates external tools, model storage, output paths, and the
// optional speaker and text backends.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error

	diarizer Prober
	llm      Prober
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   execx.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// WithDiarizer adds a reachability check for the diarization sidecar.
func (c *Checker) WithDiarizer(p Prober) *Checker {
	c.diarizer = p
	return c
}

// WithTextAssistant adds a reachability check for LM Studio.
func (c *Checker) WithTextAssistant(p Prober) *Checker {
	c.llm = p
	return c
}

// Run executes all checks and returns a combined report. Only missing
// hard requirements are failures; degraded features are warnings.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkConverter(toolOrDefault(settings.FFmpegPath, "ffmpeg")),
		c.checkEngine(toolOrDefault(settings.WhisperPath, "whisper-cli")),
		c.checkModels(settings.ModelsDir, settings.ModelName),
		c.checkOutputDir(settings.OutputDir),
	}
	if settings.DiarizationEnabled {
		items = append(items, c.checkDiarization(ctx, settings.HFToken))
	}
	if c.llm != nil {
		items = append(items, c.checkTextAssistant(ctx, settings.LMStudioURL))
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

func toolOrDefault(configured, fallback string) string {
	if strings.TrimSpace(configured) == "" {
		return fallback
	}
	return configured
}

// checkConverter warns when ffmpeg is missing; WAV input still works.
func (c *Checker) checkConverter(name string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_ffmpeg",
			Name:    "ffmpeg",
			Status:  domain.DiagnosticStatusWarn,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    "Without ffmpeg only 16 kHz WAV files transcribe reliably. Install ffmpeg to convert other formats.",
		}
	}
	return domain.DiagnosticItem{
		ID:      "tool_ffmpeg",
		Name:    "ffmpeg",
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkEngine verifies the whisper.cpp CLI is on PATH.
func (c *Checker) checkEngine(name string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_whisper",
			Name:    "whisper.cpp",
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    "Build whisper.cpp and put whisper-cli on PATH, or set its location in settings.",
		}
	}
	return domain.DiagnosticItem{
		ID:      "tool_whisper",
		Name:    "whisper.cpp",
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkModels validates the models directory and whether the selected
// model is already downloaded.
func (c *Checker) checkModels(modelsDir, modelName string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "models",
		Name: "Models",
	}

	if strings.TrimSpace(modelsDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Models directory is empty."
		item.Hint = "Set a directory where whisper models are stored."
		return item
	}
	if modelName != "" && !engine.KnownModel(modelName) {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Unknown model: %s", modelName)
		item.Hint = "Pick a model from the model list in settings."
		return item
	}

	info, err := c.stat(modelsDir)
	switch {
	case IsNotExist(err):
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Models directory does not exist yet: %s", modelsDir)
		item.Hint = "It will be created when the first model is downloaded."
		return item
	case err != nil:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot access models directory: %s", modelsDir)
		item.Hint = "Check permissions for the models directory."
		return item
	case !info.IsDir():
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Models path is not a directory: %s", modelsDir)
		item.Hint = "Point the models setting at a directory."
		return item
	}

	entries, err := c.readDir(modelsDir)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read models directory: %s", modelsDir)
		item.Hint = "Check permissions for the models directory."
		return item
	}

	want := engine.ModelFileName(modelName)
	found := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if entry.Name() == want {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Model %s is ready in %s", modelName, modelsDir)
			return item
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".bin") {
			found++
		}
	}

	item.Status = domain.DiagnosticStatusWarn
	item.Message = fmt.Sprintf("Model %s is not downloaded (%d other models found).", modelName, found)
	item.Hint = "It will be downloaded automatically on first use, or download it from the model list."
	return item
}

// checkOutputDir validates output directory existence and write access.
// An empty setting is allowed; exports then ask for a directory.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "Output directory is not set."
		item.Hint = "Set an output directory to enable automatic batch export."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for transcript export."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// checkDiarization warns when speaker labels will be skipped.
func (c *Checker) checkDiarization(ctx context.Context, token string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "diarization",
		Name: "Speaker identification",
	}
	if len(strings.TrimSpace(token)) <= minTokenLength {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "HuggingFace token is missing."
		item.Hint = "Add a HuggingFace access token in settings and accept the pyannote model terms."
		return item
	}
	if c.diarizer != nil && !c.diarizer.IsAvailable(ctx) {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "Diarization service is not reachable."
		item.Hint = "Start the pyannote sidecar; transcripts will be produced without speaker labels until then."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = "Speaker identification is available."
	return item
}

// checkTextAssistant warns when AI cleaning will use the local fallback.
func (c *Checker) checkTextAssistant(ctx context.Context, url string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "lm_studio",
		Name: "LM Studio",
	}
	if !c.llm.IsAvailable(ctx) {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("LM Studio is not reachable at %s", url)
		item.Hint = "Start the LM Studio server to enable AI cleaning and article generation."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("LM Studio is running at %s", url)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
