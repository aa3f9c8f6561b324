package textproc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Result is the outcome of a full clean-then-structure pass.
type Result struct {
	Original string        `json:"original"`
	Cleaned  CleanedText   `json:"cleaned"`
	Coherent CoherentText  `json:"coherent"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Processor chains the Cleaner and Coherence stages.
type Processor struct {
	client    *Client
	cleaner   *Cleaner
	coherence *Coherence
	now       func() time.Time
}

// NewProcessor wires both stages to one LM Studio client.
func NewProcessor(client *Client, log zerolog.Logger) *Processor {
	return &Processor{
		client:    client,
		cleaner:   NewCleaner(client, log),
		coherence: NewCoherence(client, log),
		now:       time.Now,
	}
}

// IsAvailable reports whether LM Studio answers.
func (p *Processor) IsAvailable(ctx context.Context) bool {
	return p.client.CheckConnection(ctx)
}

// ModelName returns the model LM Studio has loaded.
func (p *Processor) ModelName(ctx context.Context) (string, error) {
	return p.client.LoadedModel(ctx)
}

// Process cleans raw (0-50%) and then structures it (50-100%).
func (p *Processor) Process(ctx context.Context, raw string, useAI bool, progress ProgressFunc) (Result, error) {
	started := p.now()

	cleaned, err := p.cleaner.Clean(ctx, raw, useAI, func(pct int, msg string) {
		report(progress, pct/2, "Cleaning: "+msg)
	})
	if err != nil {
		return Result{}, err
	}

	coherent, err := p.coherence.Process(ctx, cleaned.Cleaned, useAI, func(pct int, msg string) {
		report(progress, 50+pct/2, "Structuring: "+msg)
	})
	if err != nil {
		return Result{}, err
	}

	elapsed := p.now().Sub(started)
	report(progress, 100, fmt.Sprintf("Processing complete in %.1fs", elapsed.Seconds()))
	return Result{
		Original: raw,
		Cleaned:  cleaned,
		Coherent: coherent,
		Elapsed:  elapsed,
	}, nil
}
