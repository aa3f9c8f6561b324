package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"batch-transcriber/internal/diarize"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/engine"
	"batch-transcriber/internal/execx"
	"batch-transcriber/internal/media"
)

// ErrCancelled marks a run stopped at a cancellation checkpoint.
var ErrCancelled = errors.New("transcription cancelled")

// Stage names one step of a single-file run.
type Stage string

const (
	StageValidating   Stage = "validating"
	StageConverting   Stage = "converting"
	StageLoading      Stage = "loading"
	StageTranscribing Stage = "transcribing"
	StageProcessing   Stage = "processing"
	StageDiarizing    Stage = "diarizing"
	StageComplete     Stage = "complete"
)

// Request describes one file to transcribe.
type Request struct {
	InputPath   string
	Model       string
	Language    string
	Translate   bool
	Threads     int
	Diarize     bool
	NumSpeakers int
	MinSpeakers int
	MaxSpeakers int
}

// RequestFromSettings builds a request for path from persisted settings.
func RequestFromSettings(path string, s domain.Settings, cpus int) Request {
	threads := s.Threads
	if threads <= 0 {
		threads = engine.ThreadCount(s.PerformanceMode, cpus)
	}
	return Request{
		InputPath:   path,
		Model:       s.ModelName,
		Language:    s.Language,
		Translate:   s.Translate,
		Threads:     threads,
		Diarize:     s.DiarizationEnabled,
		NumSpeakers: s.NumSpeakers,
		MinSpeakers: s.MinSpeakers,
		MaxSpeakers: s.MaxSpeakers,
	}
}

// PipelineError is a stage-aware failure. Error() is the raw message shown
// to users; Detail() adds the command context for logs.
type PipelineError struct {
	Stage      Stage            `json:"stage"`
	Message    string           `json:"message"`
	CommandLog execx.CommandLog `json:"commandLog"`
	Err        error            `json:"-"`
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Detail formats the failure with stage and command for logs.
func (e *PipelineError) Detail() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Normalizer prepares a waveform for the engine.
type Normalizer interface {
	Normalize(ctx context.Context, input string) (media.Output, error)
}

// ModelPreparer is implemented by engines that can materialize a model
// ahead of decoding.
type ModelPreparer interface {
	Prepare(ctx context.Context, model string) error
}

// ProgressFunc receives monotonic percentages with a stage and label.
type ProgressFunc func(pct int, stage Stage, msg string)

// Pipeline drives one file through conversion, decoding, and optional
// speaker labelling.
type Pipeline struct {
	normalizer Normalizer
	engine     engine.Engine
	diarizer   diarize.Diarizer
	stat       func(string) (os.FileInfo, error)
	log        zerolog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithStat replaces the input existence check.
func WithStat(fn func(string) (os.FileInfo, error)) Option {
	return func(p *Pipeline) { p.stat = fn }
}

// NewPipeline wires the collaborators. diarizer may be nil when speaker
// labelling is never requested.
func NewPipeline(n Normalizer, e engine.Engine, d diarize.Diarizer, log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		normalizer: n,
		engine:     e,
		diarizer:   d,
		stat:       os.Stat,
		log:        log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline synchronously. Cancellation is checked at every
// stage boundary and reported as ErrCancelled. The temporary waveform is
// removed before Run returns on every path.
func (p *Pipeline) Run(ctx context.Context, req Request, onProgress ProgressFunc) (domain.TranscriptionResult, error) {
	progress := &progressTracker{emit: onProgress}
	log := p.log.With().Str("input", req.InputPath).Logger()

	if ctx.Err() != nil {
		return domain.TranscriptionResult{}, ErrCancelled
	}
	if info, err := p.stat(req.InputPath); err != nil || info.IsDir() {
		return domain.TranscriptionResult{}, &PipelineError{
			Stage:   StageValidating,
			Message: fmt.Sprintf("File not found: %s", req.InputPath),
			Err:     err,
		}
	}

	audioPath := req.InputPath
	if media.NeedsConversion(req.InputPath) {
		progress.report(5, StageConverting, "Converting audio...")
		out, err := p.normalizer.Normalize(ctx, req.InputPath)
		switch {
		case ctx.Err() != nil:
			_ = out.Cleanup()
			return domain.TranscriptionResult{}, ErrCancelled
		case err != nil:
			log.Warn().Err(err).Msg("conversion unavailable, transcribing original file")
		default:
			defer func() {
				if cerr := out.Cleanup(); cerr != nil {
					log.Warn().Err(cerr).Msg("cleanup temporary waveform")
				}
			}()
			audioPath = out.Path
		}
	}
	if ctx.Err() != nil {
		return domain.TranscriptionResult{}, ErrCancelled
	}

	progress.report(10, StageLoading, "Loading model (downloading if needed)...")
	if prep, ok := p.engine.(ModelPreparer); ok {
		if err := prep.Prepare(ctx, req.Model); err != nil {
			if ctx.Err() != nil {
				return domain.TranscriptionResult{}, ErrCancelled
			}
			return domain.TranscriptionResult{}, engineFailure(StageLoading, err)
		}
	}
	if ctx.Err() != nil {
		return domain.TranscriptionResult{}, ErrCancelled
	}

	progress.report(15, StageLoading, "Preparing transcription...")
	engineReq := engine.Request{
		AudioPath: audioPath,
		Model:     req.Model,
		Language:  req.Language,
		Translate: req.Translate,
		Threads:   req.Threads,
	}
	if ctx.Err() != nil {
		return domain.TranscriptionResult{}, ErrCancelled
	}

	progress.report(20, StageTranscribing, "Transcribing audio...")
	segments, err := p.engine.Transcribe(ctx, engineReq)
	if ctx.Err() != nil {
		return domain.TranscriptionResult{}, ErrCancelled
	}
	if err != nil {
		return domain.TranscriptionResult{}, engineFailure(StageTranscribing, err)
	}
	if len(segments) == 0 {
		return domain.TranscriptionResult{}, engineFailure(StageTranscribing, &engine.Error{
			Kind:    engine.ErrNoSpeech,
			Message: "No speech detected in the audio file.",
		})
	}

	var speakerTimes map[string]float64
	if req.Diarize && p.diarizer != nil {
		segments, speakerTimes, err = p.labelSpeakers(ctx, req, audioPath, segments, progress, log)
		if err != nil {
			return domain.TranscriptionResult{}, err
		}
	} else {
		progress.report(90, StageProcessing, "Processing results...")
	}

	result := domain.NewTranscriptionResult(segments, resultLanguage(req.Language))
	result.SpeakerTimes = speakerTimes
	progress.report(100, StageComplete, "Complete!")
	return result, nil
}

// labelSpeakers runs diarization inside the 85-95 band and returns the merged
// segments with per-speaker talk time. Any failure other than cancellation
// leaves segments unlabelled.
func (p *Pipeline) labelSpeakers(
	ctx context.Context,
	req Request,
	audioPath string,
	segments []domain.Segment,
	progress *progressTracker,
	log zerolog.Logger,
) ([]domain.Segment, map[string]float64, error) {
	progress.report(85, StageDiarizing, "Identifying speakers...")
	dres, err := p.diarizer.Diarize(ctx, diarize.Request{
		AudioPath:   audioPath,
		NumSpeakers: req.NumSpeakers,
		MinSpeakers: req.MinSpeakers,
		MaxSpeakers: req.MaxSpeakers,
	}, func(pct int, msg string) {
		progress.report(85+pct/10, StageDiarizing, msg)
	})
	if ctx.Err() != nil {
		return nil, nil, ErrCancelled
	}
	if err != nil {
		log.Warn().Err(err).Str("backend", p.diarizer.Name()).Msg("speaker identification failed, continuing without labels")
		progress.report(95, StageDiarizing, "Speaker identification unavailable")
		return segments, nil, nil
	}
	if len(dres.Segments) == 0 {
		progress.report(95, StageDiarizing, "No speakers identified")
		return segments, nil, nil
	}
	times := diarize.SpeakerTimes(dres)
	log.Debug().Int("speakers", dres.NumSpeakers).Interface("talk_time", times).Msg("speakers identified")
	progress.report(95, StageDiarizing, fmt.Sprintf("Found %d speakers", dres.NumSpeakers))
	return diarize.Merge(segments, dres), times, nil
}

// engineFailure wraps an engine error and keeps its command context.
func engineFailure(stage Stage, err error) *PipelineError {
	pe := &PipelineError{
		Stage:   stage,
		Message: engine.AnnotateGPUError(err.Error()),
		Err:     err,
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		pe.CommandLog = engErr.CommandLog
	}
	return pe
}

// resultLanguage reports the requested code, or the detected sentinel.
func resultLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return domain.LanguageDetected
	}
	return lang
}

// progressTracker clamps reported percentages to be non-decreasing.
type progressTracker struct {
	last int
	emit ProgressFunc
}

func (t *progressTracker) report(pct int, stage Stage, msg string) {
	pct = min(max(pct, t.last), 100)
	t.last = pct
	if t.emit != nil {
		t.emit(pct, stage, msg)
	}
}
