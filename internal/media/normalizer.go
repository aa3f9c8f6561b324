package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"batch-transcriber/internal/execx"
)

// DefaultTimeout bounds one conversion run.
const DefaultTimeout = time.Hour

var (
	// ErrToolMissing means the conversion tool is not installed.
	ErrToolMissing = errors.New("conversion tool not found")
	// ErrConversionFailed means the tool ran but produced no usable output.
	ErrConversionFailed = errors.New("conversion failed")
	// ErrConversionTimeout means the tool exceeded the conversion timeout.
	ErrConversionTimeout = errors.New("conversion timed out")
)

// ConversionError carries the failure kind and the command that produced it.
type ConversionError struct {
	Kind       error
	Message    string
	CommandLog execx.CommandLog
	Err        error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches the failure kind.
func (e *ConversionError) Is(target error) bool {
	return target == e.Kind
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Output is the waveform the engine should read.
type Output struct {
	Path       string
	Converted  bool
	CommandLog execx.CommandLog

	tempDir   string
	removeAll func(string) error
}

// Cleanup removes the temporary waveform, if one was created. Safe to call
// more than once.
func (o *Output) Cleanup() error {
	if o == nil || o.tempDir == "" {
		return nil
	}
	if err := o.removeAll(o.tempDir); err != nil {
		return err
	}
	o.tempDir = ""
	return nil
}

// Normalizer converts arbitrary media to mono 16 kHz PCM via ffmpeg.
type Normalizer struct {
	ffmpegPath string
	timeout    time.Duration
	runner     execx.Runner
	lookPath   func(string) (string, error)
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(string) error
	stat       func(string) (os.FileInfo, error)
	log        zerolog.Logger
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithRunner replaces the process runner.
func WithRunner(r execx.Runner) Option {
	return func(n *Normalizer) { n.runner = r }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Normalizer) { n.timeout = d }
}

// WithLookPath replaces tool discovery.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(n *Normalizer) { n.lookPath = fn }
}

// WithRemoveAll replaces temp cleanup, used to observe cleanup in tests.
func WithRemoveAll(fn func(string) error) Option {
	return func(n *Normalizer) { n.removeAll = fn }
}

// NewNormalizer builds a normalizer around the ffmpeg binary at ffmpegPath.
func NewNormalizer(ffmpegPath string, log zerolog.Logger, opts ...Option) *Normalizer {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	n := &Normalizer{
		ffmpegPath: ffmpegPath,
		timeout:    DefaultTimeout,
		runner:     execx.OSRunner{},
		lookPath:   execx.LookPath,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		stat:       os.Stat,
		log:        log,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns a waveform path for input. When no conversion is needed
// it returns the input itself with Converted=false. A cancelled ctx yields
// ctx.Err() rather than a ConversionError.
func (n *Normalizer) Normalize(ctx context.Context, input string) (Output, error) {
	if !NeedsConversion(input) {
		return Output{Path: input}, nil
	}

	if _, err := n.lookPath(n.ffmpegPath); err != nil {
		return Output{}, &ConversionError{Kind: ErrToolMissing, Message: n.ffmpegPath, Err: err}
	}

	tempDir, err := n.mkdirTemp("", "batch-transcriber-*")
	if err != nil {
		return Output{}, &ConversionError{Kind: ErrConversionFailed, Message: "create temporary workspace", Err: err}
	}
	outPath := filepath.Join(tempDir, waveformName(input))
	args := buildFFmpegArgs(input, outPath)

	runCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	n.log.Debug().Str("input", input).Str("output", outPath).Msg("converting media")
	res, runErr := n.runner.Run(runCtx, n.ffmpegPath, args...)
	cmdLog := execx.NewLog(n.ffmpegPath, args, res)

	if runErr != nil {
		_ = n.removeAll(tempDir)
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Output{}, &ConversionError{
				Kind:       ErrConversionTimeout,
				Message:    fmt.Sprintf("exceeded %s", n.timeout),
				CommandLog: cmdLog,
				Err:        runErr,
			}
		}
		return Output{}, &ConversionError{
			Kind:       ErrConversionFailed,
			Message:    strings.TrimSpace(lastLine(res.Stderr)),
			CommandLog: cmdLog,
			Err:        runErr,
		}
	}

	if _, err := n.stat(outPath); err != nil {
		_ = n.removeAll(tempDir)
		return Output{}, &ConversionError{
			Kind:       ErrConversionFailed,
			Message:    "ffmpeg completed but output file is missing",
			CommandLog: cmdLog,
			Err:        err,
		}
	}

	return Output{
		Path:       outPath,
		Converted:  true,
		CommandLog: cmdLog,
		tempDir:    tempDir,
		removeAll:  n.removeAll,
	}, nil
}

// buildFFmpegArgs builds CLI args for mono 16 kHz 16-bit PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// waveformName derives the temp file name from the input's base name.
func waveformName(inputPath string) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "audio"
	}
	return name + "_16k.wav"
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
