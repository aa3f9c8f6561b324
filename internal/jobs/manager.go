package jobs

import (
	"errors"
	"fmt"
	"sync"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/transcribe"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when cancel is requested for idle state.
var ErrNoRunningJob = errors.New("no running job")

// Manager tracks the single allowed one-off job and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
	}
}

// Start creates a new job and moves it to converting state.
func (m *Manager) Start(jobID, inputPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrJobAlreadyRunning
	}

	m.current = domain.Job{
		ID:        jobID,
		InputPath: inputPath,
		Status:    domain.JobStatusConverting,
	}
	return nil
}

// Transition validates and applies state transitions for current job.
func (m *Manager) Transition(status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.JobStatusIdle {
		return fmt.Errorf("cannot transition without an active job")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// Observe advances the state machine from a pipeline event. Progress that
// arrives after Cancel is ignored.
func (m *Manager) Observe(ev transcribe.Event) error {
	status, ok := statusForEvent(ev)
	if !ok {
		return nil
	}
	if !ev.Kind.Terminal() && m.Current().Status == domain.JobStatusCancelled {
		return nil
	}
	return m.Transition(status)
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset clears job metadata and returns manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Job{Status: domain.JobStatusIdle}
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// Cancel moves an active job to cancelled state.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return ErrNoRunningJob
	}
	m.current.Status = domain.JobStatusCancelled
	return nil
}

// statusForEvent maps a pipeline event onto the job lifecycle.
func statusForEvent(ev transcribe.Event) (domain.JobStatus, bool) {
	switch ev.Kind {
	case transcribe.EventCompleted:
		return domain.JobStatusDone, true
	case transcribe.EventFailed:
		return domain.JobStatusFailed, true
	case transcribe.EventCancelled:
		return domain.JobStatusCancelled, true
	}
	switch ev.Stage {
	case transcribe.StageValidating, transcribe.StageConverting:
		return domain.JobStatusConverting, true
	case transcribe.StageDiarizing:
		return domain.JobStatusDiarizing, true
	case transcribe.StageComplete:
		// the terminal event moves the job to done
		return "", false
	default:
		return domain.JobStatusTranscribing, true
	}
}

// isRunning checks if a status represents active pipeline execution.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusConverting, domain.JobStatusTranscribing, domain.JobStatusDiarizing:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusConverting
	case domain.JobStatusConverting:
		return to == domain.JobStatusTranscribing || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusTranscribing:
		return to == domain.JobStatusDiarizing || to == domain.JobStatusDone || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusDiarizing:
		return to == domain.JobStatusDone || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusDone, domain.JobStatusFailed, domain.JobStatusCancelled:
		return to == domain.JobStatusConverting || to == domain.JobStatusIdle
	default:
		return false
	}
}
