// Package diarize attributes time intervals to speakers and merges those
// intervals into transcription segments.
package diarize

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"batch-transcriber/internal/domain"
)

var (
	// ErrUnavailable means the backend or its credential is missing.
	ErrUnavailable = errors.New("diarization not available")
	// ErrPipelineLoad means the backend is present but its model failed to load.
	ErrPipelineLoad = errors.New("pipeline load failed")
)

// Default auto-detect speaker range.
const (
	DefaultMinSpeakers = 1
	DefaultMaxSpeakers = 10
)

// ProgressFunc receives a 0-100 percentage local to one diarization run.
type ProgressFunc func(pct int, msg string)

// Request selects the waveform and speaker parameters. A positive
// NumSpeakers takes precedence over the Min/Max range.
type Request struct {
	AudioPath   string
	NumSpeakers int
	MinSpeakers int
	MaxSpeakers int
}

// speakerParams resolves which parameters are sent to the backend.
func (r Request) speakerParams() (num, minSpk, maxSpk int) {
	if r.NumSpeakers > 0 {
		return r.NumSpeakers, 0, 0
	}
	minSpk, maxSpk = r.MinSpeakers, r.MaxSpeakers
	if minSpk <= 0 {
		minSpk = DefaultMinSpeakers
	}
	if maxSpk <= 0 {
		maxSpk = DefaultMaxSpeakers
	}
	if maxSpk < minSpk {
		maxSpk = minSpk
	}
	return 0, minSpk, maxSpk
}

// Diarizer is the capability shared by every backend variant.
type Diarizer interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Diarize(ctx context.Context, req Request, progress ProgressFunc) (domain.DiarizationResult, error)
}

// Select returns primary when it reports itself available, otherwise the
// no-op variant. The choice is made once, by the caller, at construction.
func Select(ctx context.Context, primary Diarizer, log zerolog.Logger) Diarizer {
	if primary != nil && primary.IsAvailable(ctx) {
		log.Debug().Str("backend", primary.Name()).Msg("diarization backend selected")
		return primary
	}
	log.Debug().Msg("diarization backend unavailable, using null diarizer")
	return Null{}
}

func report(progress ProgressFunc, pct int, msg string) {
	if progress != nil {
		progress(pct, msg)
	}
}
