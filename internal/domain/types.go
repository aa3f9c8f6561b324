package domain

import (
	"strings"
	"time"
)

// JobStatus tracks the stage of a one-off transcription started outside the batch queue.
type JobStatus string

const (
	JobStatusIdle         JobStatus = "idle"
	JobStatusConverting   JobStatus = "converting"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusDiarizing    JobStatus = "diarizing"
	JobStatusDone         JobStatus = "done"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// Job stores the current one-off job identity and lifecycle status.
type Job struct {
	ID        string    `json:"id"`
	InputPath string    `json:"inputPath,omitempty"`
	Status    JobStatus `json:"status"`
}

// ItemStatus is the lifecycle state of one queued batch item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemComplete   ItemStatus = "complete"
	ItemError      ItemStatus = "error"
	ItemCancelled  ItemStatus = "cancelled"
)

// Terminal reports whether the status ends an item's run.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemComplete, ItemError, ItemCancelled:
		return true
	default:
		return false
	}
}

// JobItem is one file in the batch queue.
type JobItem struct {
	ID         string               `json:"id"`
	Path       string               `json:"path"`
	Status     ItemStatus           `json:"status"`
	Progress   int                  `json:"progress"`
	Message    string               `json:"message,omitempty"`
	Result     *TranscriptionResult `json:"result,omitempty"`
	Error      string               `json:"error,omitempty"`
	StartedAt  time.Time            `json:"startedAt,omitempty"`
	FinishedAt time.Time            `json:"finishedAt,omitempty"`
}

// FileName returns the base name of the item's path.
func (i JobItem) FileName() string {
	idx := strings.LastIndexAny(i.Path, `/\`)
	return i.Path[idx+1:]
}

// Segment is one timed utterance. Times are seconds.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// LanguageDetected marks results produced with automatic language detection.
const LanguageDetected = "detected"

// TranscriptionResult is the ordered output of one transcription.
type TranscriptionResult struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	// SpeakerTimes is seconds of speech per diarized speaker label.
	SpeakerTimes map[string]float64 `json:"speakerTimes,omitempty"`
}

// NewTranscriptionResult builds a result whose duration is the end of the
// last segment in the given order.
func NewTranscriptionResult(segments []Segment, language string) TranscriptionResult {
	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}
	return TranscriptionResult{
		Segments: segments,
		Language: language,
		Duration: duration,
	}
}

// FullText joins trimmed segment texts with single spaces.
func (r TranscriptionResult) FullText() string {
	parts := make([]string, 0, len(r.Segments))
	for _, seg := range r.Segments {
		parts = append(parts, strings.TrimSpace(seg.Text))
	}
	return strings.Join(parts, " ")
}

// HasSpeakers reports whether any segment carries a speaker label.
func (r TranscriptionResult) HasSpeakers() bool {
	for _, seg := range r.Segments {
		if seg.Speaker != "" {
			return true
		}
	}
	return false
}

// SpeakerSegment is one diarized interval.
type SpeakerSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
}

// DiarizationResult holds speaker intervals sorted by start.
type DiarizationResult struct {
	Segments    []SpeakerSegment `json:"segments"`
	NumSpeakers int              `json:"numSpeakers"`
	Duration    float64          `json:"duration"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelsDir       string `json:"modelsDir" validate:"required"`
	ModelName       string `json:"modelName" validate:"required"`
	Language        string `json:"language"`
	Translate       bool   `json:"translate"`
	PerformanceMode string `json:"performanceMode" validate:"omitempty,oneof=efficiency balanced performance"`
	Threads         int    `json:"threads" validate:"gte=0,lte=256"`

	OutputDir       string `json:"outputDir"`
	ExportFormat    string `json:"exportFormat" validate:"omitempty,oneof=txt txt_ts srt vtt json"`
	BatchAutoExport bool   `json:"batchAutoExport"`

	DiarizationEnabled bool   `json:"diarizationEnabled"`
	NumSpeakers        int    `json:"numSpeakers" validate:"gte=0,lte=20"`
	MinSpeakers        int    `json:"minSpeakers" validate:"gte=0,lte=20"`
	MaxSpeakers        int    `json:"maxSpeakers" validate:"omitempty,lte=20,gtefield=MinSpeakers"`
	HFToken            string `json:"hfToken"`
	DiarizationURL     string `json:"diarizationUrl" validate:"omitempty,url"`

	LMStudioURL string `json:"lmStudioUrl" validate:"omitempty,url"`

	FFmpegPath  string `json:"ffmpegPath"`
	WhisperPath string `json:"whisperPath"`
	LogLevel    string `json:"logLevel" validate:"omitempty,oneof=trace debug info warn error"`
}
