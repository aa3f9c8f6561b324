package diarize

import (
	"fmt"
	"sort"

	"batch-transcriber/internal/domain"
)

// UnknownSpeaker labels segments no interval covers.
const UnknownSpeaker = "Unknown"

// rawTrack is one backend interval before relabelling.
type rawTrack struct {
	Start      float64
	End        float64
	Label      string
	Confidence float64
}

// assemble maps raw labels to "Speaker N" in first-seen order and sorts the
// intervals by start. NumSpeakers counts the labels actually observed.
func assemble(tracks []rawTrack) domain.DiarizationResult {
	names := map[string]string{}
	segments := make([]domain.SpeakerSegment, 0, len(tracks))
	for _, tr := range tracks {
		name, ok := names[tr.Label]
		if !ok {
			name = fmt.Sprintf("Speaker %d", len(names)+1)
			names[tr.Label] = name
		}
		conf := tr.Confidence
		if conf == 0 {
			conf = 1.0
		}
		segments = append(segments, domain.SpeakerSegment{
			Start:      tr.Start,
			End:        tr.End,
			Speaker:    name,
			Confidence: conf,
		})
	}
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })

	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}
	return domain.DiarizationResult{
		Segments:    segments,
		NumSpeakers: len(names),
		Duration:    duration,
	}
}

// SpeakerAt returns the first interval, in result order, with start <= t <= end.
func SpeakerAt(result domain.DiarizationResult, t float64) (string, bool) {
	for _, seg := range result.Segments {
		if seg.Start <= t && t <= seg.End {
			return seg.Speaker, true
		}
	}
	return "", false
}

// Merge labels each segment with the speaker active at its midpoint, falling
// back to its start, then to UnknownSpeaker. The input slice is not modified.
func Merge(segments []domain.Segment, result domain.DiarizationResult) []domain.Segment {
	out := make([]domain.Segment, len(segments))
	for i, seg := range segments {
		mid := (seg.Start + seg.End) / 2
		speaker, ok := SpeakerAt(result, mid)
		if !ok {
			speaker, ok = SpeakerAt(result, seg.Start)
		}
		if !ok {
			speaker = UnknownSpeaker
		}
		seg.Speaker = speaker
		out[i] = seg
	}
	return out
}

// SpeakerTimes sums speaking time per speaker.
func SpeakerTimes(result domain.DiarizationResult) map[string]float64 {
	times := make(map[string]float64)
	for _, seg := range result.Segments {
		times[seg.Speaker] += seg.End - seg.Start
	}
	return times
}
