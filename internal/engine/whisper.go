// Package engine adapts the whisper.cpp command line tool into a segment
// producing transcription engine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/execx"
)

var (
	// ErrModelLoad means the requested model could not be materialized.
	ErrModelLoad = errors.New("model load failed")
	// ErrNoSpeech means decoding produced zero segments.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrDecode means whisper.cpp failed or its output could not be read.
	ErrDecode = errors.New("transcription failed")
)

const noSpeechMessage = "No speech detected in the audio file."

const gpuHint = "\n\nTip: Try selecting CPU mode in settings."

// Error is an engine failure whose Error() is the user-facing message.
type Error struct {
	Kind       error
	Message    string
	CommandLog execx.CommandLog
	Err        error
}

func (e *Error) Error() string { return e.Message }

// Is matches the failure kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// AnnotateGPUError appends a CPU-mode hint to messages that mention CUDA.
func AnnotateGPUError(msg string) string {
	if strings.Contains(msg, "CUDA") || strings.Contains(msg, "cuda") {
		if !strings.HasSuffix(msg, gpuHint) {
			return msg + gpuHint
		}
	}
	return msg
}

// Request describes one decoding run.
type Request struct {
	AudioPath string
	Model     string
	Language  string
	Translate bool
	Threads   int
}

// Engine turns a waveform into ordered segments with times in seconds.
type Engine interface {
	Transcribe(ctx context.Context, req Request) ([]domain.Segment, error)
}

// Whisper drives the whisper.cpp CLI. Decoding is not preempted; ctx is
// consulted after the model is ready, after arguments are prepared, and
// after the CLI returns.
type Whisper struct {
	binary    string
	models    *ModelStore
	runner    execx.Runner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(string) error
	readFile  func(string) ([]byte, error)
	log       zerolog.Logger
}

// WhisperOption customizes a Whisper engine.
type WhisperOption func(*Whisper)

// WithCommandRunner replaces the process runner.
func WithCommandRunner(r execx.Runner) WhisperOption {
	return func(w *Whisper) { w.runner = r }
}

// NewWhisper builds an engine using the CLI at binary and models from store.
func NewWhisper(binary string, store *ModelStore, log zerolog.Logger, opts ...WhisperOption) *Whisper {
	if strings.TrimSpace(binary) == "" {
		binary = "whisper-cli"
	}
	w := &Whisper{
		binary:    binary,
		models:    store,
		runner:    execx.OSRunner{},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		readFile:  os.ReadFile,
		log:       log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Prepare makes sure the model file is present, downloading it if needed.
func (w *Whisper) Prepare(ctx context.Context, model string) error {
	_, err := w.loadModel(ctx, model)
	return err
}

func (w *Whisper) loadModel(ctx context.Context, model string) (string, error) {
	modelPath, err := w.models.Ensure(ctx, model)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{
			Kind:    ErrModelLoad,
			Message: fmt.Sprintf("Failed to load model '%s': %v", model, err),
			Err:     err,
		}
	}
	return modelPath, nil
}

// Transcribe runs whisper.cpp on req.AudioPath.
func (w *Whisper) Transcribe(ctx context.Context, req Request) ([]domain.Segment, error) {
	modelPath, err := w.loadModel(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	threads := req.Threads
	if threads <= 0 {
		threads = ThreadCount(ModeBalanced, runtime.NumCPU())
	}
	workDir, err := w.mkdirTemp("", "batch-transcriber-whisper-*")
	if err != nil {
		return nil, &Error{Kind: ErrDecode, Message: "failed to create temporary workspace", Err: err}
	}
	defer func() { _ = w.removeAll(workDir) }()

	outBase := filepath.Join(workDir, "transcript")
	args := buildWhisperArgs(modelPath, req.AudioPath, outBase, req.Language, req.Translate, threads)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.log.Debug().Str("model", req.Model).Int("threads", threads).Str("audio", req.AudioPath).Msg("running whisper.cpp")
	res, runErr := w.runner.Run(ctx, w.binary, args...)
	cmdLog := execx.NewLog(w.binary, args, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runErr != nil {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = runErr.Error()
		}
		return nil, &Error{Kind: ErrDecode, Message: lastLines(msg, 3), CommandLog: cmdLog, Err: runErr}
	}

	data, err := w.readFile(outBase + ".json")
	if err != nil {
		return nil, &Error{
			Kind:       ErrDecode,
			Message:    "whisper.cpp completed but JSON output is missing",
			CommandLog: cmdLog,
			Err:        err,
		}
	}
	segments, err := parseWhisperJSON(data)
	if err != nil {
		return nil, &Error{Kind: ErrDecode, Message: "cannot parse whisper.cpp output", CommandLog: cmdLog, Err: err}
	}
	if len(segments) == 0 {
		return nil, &Error{Kind: ErrNoSpeech, Message: noSpeechMessage, CommandLog: cmdLog}
	}
	return segments, nil
}

// buildWhisperArgs builds whisper.cpp args for JSON output.
func buildWhisperArgs(modelPath, audioPath, outBase, language string, translate bool, threads int) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-t", strconv.Itoa(threads),
		"-of", outBase,
		"-oj",
		"-np",
		"-l", normalizeLanguage(language),
	}
	if translate {
		args = append(args, "-tr")
	}
	return args
}

// normalizeLanguage maps empty input to whisper.cpp's auto-detect keyword.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" {
		return "auto"
	}
	return strings.ToLower(lang)
}

// whisperOutput mirrors the -oj document. Offsets are milliseconds.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperJSON(data []byte) ([]domain.Segment, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	segments := make([]domain.Segment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		segments = append(segments, domain.Segment{
			Start: msToSeconds(t.Offsets.From),
			End:   msToSeconds(t.Offsets.To),
			Text:  t.Text,
		})
	}
	return segments, nil
}

func msToSeconds(ms int64) float64 {
	return float64(ms) / 1000.0
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
