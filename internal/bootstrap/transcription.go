package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/export"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/transcribe"
)

// ErrNoResult is returned when there is no finished one-off transcript to export.
var ErrNoResult = errors.New("no transcription result")

// StartTranscription runs a single file outside the batch queue.
func (a *App) StartTranscription(inputPath string) (domain.Job, error) {
	path := strings.TrimSpace(inputPath)
	if path == "" {
		return domain.Job{}, fmt.Errorf("input path is empty")
	}
	settings, err := a.loadSettings()
	if err != nil {
		return domain.Job{}, err
	}
	svc := a.currentServices(settings)

	a.mu.Lock()
	if a.jobDone != nil {
		a.mu.Unlock()
		return domain.Job{}, jobs.ErrJobAlreadyRunning
	}
	jobID := uuid.NewString()
	if err := a.Jobs.Start(jobID, path); err != nil {
		a.mu.Unlock()
		return domain.Job{}, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.jobCancel, a.jobDone = cancel, done
	a.lastResult = nil
	a.mu.Unlock()

	a.log.Info().Str("job", jobID).Str("path", path).Msg("transcription started")
	events := svc.pipeline.Start(ctx, transcribe.RequestFromSettings(path, settings, a.cpus))
	go a.forwardJob(jobID, path, events, cancel, done)
	return a.Jobs.Current(), nil
}

// CancelTranscription cancels the one-off job and waits for it to stop.
// The pipeline's terminal event decides the final status, so a job that
// finishes while the cancel is in flight still ends done.
func (a *App) CancelTranscription() error {
	a.mu.Lock()
	cancel, done := a.jobCancel, a.jobDone
	a.mu.Unlock()
	if cancel == nil {
		return jobs.ErrNoRunningJob
	}

	cancel()
	<-done
	if a.Jobs.IsRunning() {
		_ = a.Jobs.Cancel()
	}
	return nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// TranscriptionResult returns the last finished one-off transcript.
func (a *App) TranscriptionResult() (domain.TranscriptionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastResult == nil {
		return domain.TranscriptionResult{}, ErrNoResult
	}
	return a.lastResult.result, nil
}

// ExportTranscription writes the last one-off transcript to the output
// directory. An empty format uses the configured default.
func (a *App) ExportTranscription(format string) (string, error) {
	a.mu.Lock()
	last := a.lastResult
	a.mu.Unlock()
	if last == nil {
		return "", ErrNoResult
	}

	settings, err := a.loadSettings()
	if err != nil {
		return "", err
	}
	if settings.OutputDir == "" {
		return "", fmt.Errorf("output directory is not configured")
	}
	format = strings.TrimSpace(format)
	if format == "" {
		format = settings.ExportFormat
	}

	name, err := export.FileName(last.inputPath, format)
	if err != nil {
		return "", err
	}
	path := filepath.Join(settings.OutputDir, name)
	if err := export.Export(last.result, path, format); err != nil {
		return "", err
	}
	a.log.Info().Str("output", path).Str("format", format).Msg("transcript exported")
	return path, nil
}

// forwardJob drains the job's event channel into the state machine and the
// event bus.
func (a *App) forwardJob(jobID, path string, events <-chan transcribe.Event, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer a.clearJob(done)
	defer cancel()

	for ev := range events {
		if err := a.Jobs.Observe(ev); err != nil {
			a.log.Warn().Err(err).Str("job", jobID).Msg("job state not updated")
		}

		out := jobs.Event{
			JobID:   jobID,
			Index:   -1,
			Path:    path,
			Stage:   string(ev.Stage),
			Percent: ev.Percent,
			Message: ev.Message,
		}
		switch ev.Kind {
		case transcribe.EventCompleted:
			out.Type = jobs.EventJobCompleted
			if ev.Result != nil {
				a.mu.Lock()
				a.lastResult = &jobResult{inputPath: path, result: *ev.Result}
				a.mu.Unlock()
			}
			a.log.Info().Str("job", jobID).Msg("transcription complete")
		case transcribe.EventFailed:
			out.Type = jobs.EventJobFailed
			var pe *transcribe.PipelineError
			if errors.As(ev.Err, &pe) {
				out.Stage = string(pe.Stage)
				out.Command = pe.CommandLog.Command
				out.ExitCode = pe.CommandLog.ExitCode
				out.Stderr = pe.CommandLog.Stderr
			}
			a.log.Error().Err(ev.Err).Str("job", jobID).Msg("transcription failed")
		case transcribe.EventCancelled:
			out.Type = jobs.EventJobCancelled
			a.log.Info().Str("job", jobID).Msg("transcription cancelled")
		default:
			out.Type = jobs.EventJobProgress
		}
		a.publish(out)
	}
}

func (a *App) clearJob(done chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.jobDone == done {
		a.jobCancel = nil
		a.jobDone = nil
	}
}
