// Command batch transcribes a list of files with the desktop app's settings
// and writes one transcript per file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"batch-transcriber/internal/config"
	"batch-transcriber/internal/diarize"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/engine"
	"batch-transcriber/internal/export"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/logging"
	"batch-transcriber/internal/media"
	"batch-transcriber/internal/transcribe"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath  string
		envFile  string
		format   string
		outDir   string
		model    string
		language string
		speakers bool
		logJSON  bool
	)

	flag.StringVar(&cfgPath, "config", config.DefaultPath(), "Settings file")
	flag.StringVar(&envFile, "env", ".env", "Optional dotenv file with TRANSCRIBER_* overrides")
	flag.StringVar(&format, "format", "", "Export format: txt|txt_ts|srt|vtt|json (default from settings)")
	flag.StringVar(&outDir, "out", "", "Output directory (default from settings)")
	flag.StringVar(&model, "model", "", "Whisper model name override")
	flag.StringVar(&language, "language", "", "Language code or auto")
	flag.BoolVar(&speakers, "diarize", false, "Label speakers with the diarization sidecar")
	flag.BoolVar(&logJSON, "json-log", false, "Write JSON log lines")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		return 2
	}

	settings, err := loadSettings(cfgPath, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch: %v\n", err)
		return 2
	}
	if model != "" {
		settings.ModelName = model
	}
	if language != "" {
		settings.Language = language
	}
	if speakers {
		settings.DiarizationEnabled = true
	}
	if outDir != "" {
		settings.OutputDir = outDir
	}
	if format != "" {
		settings.ExportFormat = format
	}
	if settings.ExportFormat == "" {
		settings.ExportFormat = export.KeyTXT
	}
	if err := config.Validate(settings); err != nil {
		fmt.Fprintf(os.Stderr, "batch: %v\n", err)
		return 2
	}
	if settings.OutputDir == "" {
		fmt.Fprintln(os.Stderr, "batch: no output directory; pass -out or set outputDir")
		return 2
	}

	logCfg := logging.Config{Level: settings.LogLevel}
	if logJSON {
		logCfg.Format = logging.FormatJSON
	}
	log := logging.New(logCfg, "batch")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch := jobs.NewBatch(newPipeline(ctx, settings, log),
		jobs.WithLogger(logging.Component(log, "batch")),
		jobs.WithObserver(reportEvent(log)),
	)
	if added := batch.AddFiles(files); added < len(files) {
		log.Warn().Int("skipped", len(files)-added).Msg("some files are missing or duplicated")
	}
	if err := batch.Start(ctx, settings); err != nil {
		log.Error().Err(err).Msg("start batch")
		return 1
	}
	batch.Wait()

	written, err := batch.ExportAll(settings.OutputDir, settings.ExportFormat)
	if err != nil {
		log.Error().Err(err).Msg("export transcripts")
		return 1
	}
	log.Info().
		Int("written", len(written)).
		Int("failed", batch.ErrorCount()).
		Str("dir", settings.OutputDir).
		Msg("done")

	if batch.ErrorCount() > 0 || ctx.Err() != nil {
		return 1
	}
	return 0
}

func loadSettings(path, envFile string) (domain.Settings, error) {
	settings, err := config.Load(path)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return config.ApplyEnv(settings, envFile)
}

func newPipeline(ctx context.Context, s domain.Settings, log zerolog.Logger) *transcribe.Pipeline {
	models := engine.NewModelStore(s.ModelsDir, logging.Component(log, "models"))
	whisper := engine.NewWhisper(s.WhisperPath, models, logging.Component(log, "engine"))
	normalizer := media.NewNormalizer(s.FFmpegPath, logging.Component(log, "media"))

	var diarizer diarize.Diarizer
	if s.DiarizationEnabled {
		diarizeLog := logging.Component(log, "diarize")
		diarizer = diarize.Select(ctx, diarize.NewPyannote(diarize.PyannoteConfig{
			BaseURL: s.DiarizationURL,
			Token:   s.HFToken,
		}, diarizeLog), diarizeLog)
	}
	return transcribe.NewPipeline(normalizer, whisper, diarizer, logging.Component(log, "pipeline"))
}

func reportEvent(log zerolog.Logger) jobs.Observer {
	return func(ev jobs.Event) {
		switch ev.Type {
		case jobs.EventItemStarted:
			log.Info().Str("file", ev.Path).Msg("transcribing")
		case jobs.EventItemProgress:
			log.Debug().Str("file", ev.Path).Int("percent", ev.Percent).Msg(ev.Message)
		case jobs.EventItemFinished:
			log.Info().Str("file", ev.Path).Msg("finished")
		case jobs.EventItemError:
			log.Error().Str("file", ev.Path).Str("stage", ev.Stage).Msg(ev.Message)
		case jobs.EventItemCancelled:
			log.Warn().Str("file", ev.Path).Msg("cancelled")
		}
	}
}
