package bootstrap

import (
	"context"
	"errors"

	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/textproc"
)

// ErrNoTextTask is returned when cancelling with no text task active.
var ErrNoTextTask = errors.New("no running text task")

// TextOutput is the result of the most recent text task.
type TextOutput struct {
	Processed *textproc.Result  `json:"processed,omitempty"`
	Article   *textproc.Article `json:"article,omitempty"`
}

// ArticleStyles lists the styles the article generator accepts.
func (a *App) ArticleStyles() []textproc.StyleInfo {
	return textproc.Styles()
}

// StartTextTask runs text cleanup or article generation in the background.
// It never waits on the transcription queue.
func (a *App) StartTextTask(task textproc.Task) error {
	settings, err := a.loadSettings()
	if err != nil {
		return err
	}
	svc := a.currentServices(settings)

	a.textMu.Lock()
	defer a.textMu.Unlock()
	if a.textRun != nil {
		return textproc.ErrTaskRunning
	}
	events, err := svc.text.Start(context.Background(), task)
	if err != nil {
		return err
	}
	a.textRun = svc.text
	a.textOut = TextOutput{}

	a.log.Info().Str("task", string(task.Kind)).Int("chars", len(task.Text)).Msg("text task started")
	go a.forwardText(svc.text, events)
	return nil
}

// CancelTextTask stops the active text task and waits for it to exit.
func (a *App) CancelTextTask() error {
	a.textMu.Lock()
	run := a.textRun
	a.textMu.Unlock()
	if run == nil || !run.Cancel() {
		return ErrNoTextTask
	}
	return nil
}

// TextTaskRunning reports whether a text task is active.
func (a *App) TextTaskRunning() bool {
	a.textMu.Lock()
	defer a.textMu.Unlock()
	return a.textRun != nil
}

// LastTextOutput returns what the most recent completed text task produced.
func (a *App) LastTextOutput() TextOutput {
	a.textMu.Lock()
	defer a.textMu.Unlock()
	return a.textOut
}

func (a *App) forwardText(run textRunner, events <-chan textproc.Event) {
	for ev := range events {
		out := jobs.Event{Index: -1, Percent: ev.Percent, Message: ev.Message}
		switch ev.Kind {
		case textproc.EventCompleted:
			out.Type = jobs.EventTextCompleted
			a.textMu.Lock()
			a.textOut = TextOutput{Processed: ev.Processed, Article: ev.Article}
			a.textMu.Unlock()
		case textproc.EventFailed:
			out.Type = jobs.EventTextFailed
			a.log.Warn().Err(ev.Err).Msg("text task failed")
		case textproc.EventCancelled:
			out.Type = jobs.EventTextCancelled
		default:
			out.Type = jobs.EventTextProgress
		}
		a.publish(out)
	}

	a.textMu.Lock()
	if a.textRun == run {
		a.textRun = nil
	}
	a.textMu.Unlock()
}
