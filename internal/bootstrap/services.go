package bootstrap

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"batch-transcriber/internal/diagnostics"
	"batch-transcriber/internal/diarize"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/engine"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/logging"
	"batch-transcriber/internal/media"
	"batch-transcriber/internal/textproc"
	"batch-transcriber/internal/transcribe"
)

// textRunner is the slice of textproc.Runner the shell drives.
type textRunner interface {
	Start(ctx context.Context, task textproc.Task) (<-chan textproc.Event, error)
	Cancel() bool
	IsRunning() bool
}

// services is the collaborator graph derived from one settings snapshot.
// It is rebuilt when a field that shapes it changes.
type services struct {
	key      string
	models   *engine.ModelStore
	pipeline jobs.JobStarter
	text     textRunner
	speakers diarize.Diarizer
	diarizer diagnostics.Prober
	llm      diagnostics.Prober
	refresh  func()
}

type servicesFactory func(domain.Settings) *services

// selectTimeout bounds the diarization probe made while building the graph.
const selectTimeout = 5 * time.Second

// defaultServices wires the production backends.
func defaultServices(log zerolog.Logger) servicesFactory {
	return func(s domain.Settings) *services {
		models := engine.NewModelStore(s.ModelsDir, logging.Component(log, "models"))
		whisper := engine.NewWhisper(s.WhisperPath, models, logging.Component(log, "engine"))
		normalizer := media.NewNormalizer(s.FFmpegPath, logging.Component(log, "media"))

		var diarizer diarize.Diarizer
		var pyannote *diarize.Pyannote
		if s.DiarizationEnabled {
			diarizeLog := logging.Component(log, "diarize")
			pyannote = diarize.NewPyannote(diarize.PyannoteConfig{
				BaseURL: s.DiarizationURL,
				Token:   s.HFToken,
			}, diarizeLog)
			ctx, cancel := context.WithTimeout(context.Background(), selectTimeout)
			diarizer = diarize.Select(ctx, pyannote, diarizeLog)
			cancel()
		}

		textLog := logging.Component(log, "textproc")
		client := textproc.NewClient(s.LMStudioURL, textLog)

		svc := &services{
			models:   models,
			speakers: diarizer,
			pipeline: transcribe.NewPipeline(normalizer, whisper, diarizer, logging.Component(log, "pipeline")),
			text:     textproc.NewRunner(textproc.NewProcessor(client, textLog), textproc.NewArticleGenerator(client, textLog)),
			llm:      diagnostics.ProbeFunc(client.CheckConnection),
			refresh: func() {
				models.Refresh()
				client.Refresh()
				if pyannote != nil {
					pyannote.Refresh()
				}
			},
		}
		if pyannote != nil {
			svc.diarizer = pyannote
		}
		return svc
	}
}

// servicesKey fingerprints the settings that the service graph is built from.
func servicesKey(s domain.Settings) string {
	return strings.Join([]string{
		s.ModelsDir,
		s.WhisperPath,
		s.FFmpegPath,
		strconv.FormatBool(s.DiarizationEnabled),
		s.DiarizationURL,
		s.HFToken,
		s.LMStudioURL,
	}, "\x00")
}

// pipelineStarter hands batch items to whichever pipeline is current.
type pipelineStarter struct {
	app *App
}

func (p pipelineStarter) Start(ctx context.Context, req transcribe.Request) <-chan transcribe.Event {
	return p.app.activeServices().pipeline.Start(ctx, req)
}
