package diarize

import (
	"reflect"
	"testing"

	"batch-transcriber/internal/domain"
)

// TestMergeBoundaryMidpointPrefersEarlierInterval checks inclusive-end tie-break.
func TestMergeBoundaryMidpointPrefersEarlierInterval(t *testing.T) {
	result := domain.DiarizationResult{Segments: []domain.SpeakerSegment{
		{Start: 0, End: 12, Speaker: "Speaker 1"},
		{Start: 12, End: 20, Speaker: "Speaker 2"},
	}}
	segments := []domain.Segment{{Start: 10, End: 14, Text: "boundary"}}

	first := Merge(segments, result)
	if first[0].Speaker != "Speaker 1" {
		t.Fatalf("speaker = %q, want Speaker 1", first[0].Speaker)
	}
	for i := 0; i < 10; i++ {
		if again := Merge(segments, result); !reflect.DeepEqual(again, first) {
			t.Fatalf("merge not deterministic: %+v vs %+v", again, first)
		}
	}
	if segments[0].Speaker != "" {
		t.Fatal("Merge must not modify its input")
	}
}

// TestMergeFallsBackToStartThenUnknown checks the two-step lookup.
func TestMergeFallsBackToStartThenUnknown(t *testing.T) {
	result := domain.DiarizationResult{Segments: []domain.SpeakerSegment{
		{Start: 0, End: 2, Speaker: "Speaker 1"},
		{Start: 20, End: 30, Speaker: "Speaker 2"},
	}}
	segments := []domain.Segment{
		{Start: 1, End: 9},   // midpoint 5 uncovered, start 1 covered
		{Start: 10, End: 16}, // nothing covers 13 or 10
		{Start: 22, End: 24}, // midpoint covered
	}

	got := Merge(segments, result)
	want := []string{"Speaker 1", UnknownSpeaker, "Speaker 2"}
	for i := range want {
		if got[i].Speaker != want[i] {
			t.Fatalf("segment %d speaker = %q, want %q", i, got[i].Speaker, want[i])
		}
	}
}

// TestMergeEmptyDiarizationLabelsUnknown checks a valid empty result.
func TestMergeEmptyDiarizationLabelsUnknown(t *testing.T) {
	got := Merge([]domain.Segment{{Start: 0, End: 1}}, domain.DiarizationResult{})
	if got[0].Speaker != UnknownSpeaker {
		t.Fatalf("speaker = %q", got[0].Speaker)
	}
}

// TestAssembleRelabelsInFirstSeenOrder checks friendly names and sorting.
func TestAssembleRelabelsInFirstSeenOrder(t *testing.T) {
	result := assemble([]rawTrack{
		{Start: 5, End: 8, Label: "SPEAKER_07"},
		{Start: 0, End: 5, Label: "SPEAKER_02", Confidence: 0.8},
		{Start: 8, End: 9, Label: "SPEAKER_07"},
		{Start: 9, End: 11, Label: "SPEAKER_00"},
	})

	if result.NumSpeakers != 3 {
		t.Fatalf("num speakers = %d, want 3", result.NumSpeakers)
	}
	gotOrder := []string{}
	for _, s := range result.Segments {
		gotOrder = append(gotOrder, s.Speaker)
	}
	wantOrder := []string{"Speaker 2", "Speaker 1", "Speaker 1", "Speaker 3"}
	if !reflect.DeepEqual(gotOrder, wantOrder) {
		t.Fatalf("speakers = %v, want %v", gotOrder, wantOrder)
	}
	if result.Segments[0].Start != 0 || result.Segments[0].Confidence != 0.8 {
		t.Fatalf("first segment = %+v", result.Segments[0])
	}
	if result.Segments[1].Confidence != 1.0 {
		t.Fatalf("default confidence = %v, want 1", result.Segments[1].Confidence)
	}
	if result.Duration != 11 {
		t.Fatalf("duration = %v, want 11", result.Duration)
	}
}

func TestSpeakerTimes(t *testing.T) {
	times := SpeakerTimes(domain.DiarizationResult{Segments: []domain.SpeakerSegment{
		{Start: 0, End: 2, Speaker: "Speaker 1"},
		{Start: 2, End: 3, Speaker: "Speaker 2"},
		{Start: 3, End: 7, Speaker: "Speaker 1"},
	}})
	if times["Speaker 1"] != 6 || times["Speaker 2"] != 1 {
		t.Fatalf("times = %v", times)
	}
}

func TestSpeakerParamsPrecedence(t *testing.T) {
	num, minSpk, maxSpk := Request{NumSpeakers: 3, MinSpeakers: 2, MaxSpeakers: 5}.speakerParams()
	if num != 3 || minSpk != 0 || maxSpk != 0 {
		t.Fatalf("params = %d %d %d", num, minSpk, maxSpk)
	}
	num, minSpk, maxSpk = Request{}.speakerParams()
	if num != 0 || minSpk != DefaultMinSpeakers || maxSpk != DefaultMaxSpeakers {
		t.Fatalf("defaults = %d %d %d", num, minSpk, maxSpk)
	}
}
