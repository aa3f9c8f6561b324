package diarize

import (
	"context"

	"batch-transcriber/internal/domain"
)

// Null is the dependency-free variant. It is always available and never
// finds speakers; callers treat its empty result as a valid outcome.
type Null struct{}

func (Null) Name() string { return "none" }

func (Null) IsAvailable(context.Context) bool { return true }

func (Null) Diarize(_ context.Context, _ Request, progress ProgressFunc) (domain.DiarizationResult, error) {
	report(progress, 100, "Speaker detection skipped")
	return domain.DiarizationResult{}, nil
}
