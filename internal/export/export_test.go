package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"batch-transcriber/internal/domain"
)

func sampleResult(withSpeakers bool) domain.TranscriptionResult {
	segs := []domain.Segment{
		{Start: 0, End: 1.5, Text: " Hello there."},
		{Start: 1.5, End: 3.25, Text: " General Kenobi."},
		{Start: 3.25, End: 3661.2, Text: " Long pause."},
	}
	if withSpeakers {
		segs[0].Speaker = "Speaker 1"
		segs[1].Speaker = "Speaker 2"
		segs[2].Speaker = "Speaker 2"
	}
	return domain.NewTranscriptionResult(segs, "en")
}

func render(t *testing.T, r domain.TranscriptionResult, key string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, r, key); err != nil {
		t.Fatalf("Write(%s) error = %v", key, err)
	}
	return buf.String()
}

func TestTimestampFormats(t *testing.T) {
	if got := FormatSRT(3661.2); got != "01:01:01,200" {
		t.Fatalf("srt = %q", got)
	}
	if got := FormatVTT(12.3); got != "00:00:12.300" {
		t.Fatalf("vtt = %q", got)
	}
	if got := FormatDuration(75.9); got != "01:15" {
		t.Fatalf("duration = %q", got)
	}
	if got := FormatDuration(3725); got != "01:02:05" {
		t.Fatalf("duration = %q", got)
	}
}

func TestWriteTXT(t *testing.T) {
	if got := render(t, sampleResult(false), KeyTXT); got != "Hello there. General Kenobi. Long pause." {
		t.Fatalf("txt = %q", got)
	}
	want := "Speaker 1: Hello there.\n\nSpeaker 2: General Kenobi. Long pause.\n\n"
	if got := render(t, sampleResult(true), KeyTXT); got != want {
		t.Fatalf("txt with speakers = %q", got)
	}
}

func TestWriteTimestampedAndSubtitles(t *testing.T) {
	r := sampleResult(true)
	if got := render(t, r, KeyTXTTS); !strings.HasPrefix(got, "[00:00:00.000] [Speaker 1] Hello there.\n") {
		t.Fatalf("txt_ts = %q", got)
	}

	srt := render(t, r, KeySRT)
	if !strings.HasPrefix(srt, "1\n00:00:00,000 --> 00:00:01,500\n[Speaker 1] Hello there.\n\n2\n") {
		t.Fatalf("srt = %q", srt)
	}

	vtt := render(t, sampleResult(false), KeyVTT)
	if !strings.HasPrefix(vtt, "WEBVTT\n\n1\n00:00:00.000 --> 00:00:01.500\nHello there.\n\n") {
		t.Fatalf("vtt = %q", vtt)
	}
}

func TestWriteJSON(t *testing.T) {
	var doc jsonDocument
	if err := json.Unmarshal([]byte(render(t, sampleResult(true), KeyJSON)), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Language != "en" || doc.Duration != 3661.2 || len(doc.Segments) != 3 {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.Segments[1].Speaker != "Speaker 2" || doc.Segments[1].Text != "General Kenobi." {
		t.Fatalf("segment = %+v", doc.Segments[1])
	}
	if doc.SpeakerTimes != nil {
		t.Fatalf("speaker times = %v, want omitted", doc.SpeakerTimes)
	}

	withTimes := sampleResult(true)
	withTimes.SpeakerTimes = map[string]float64{"Speaker 1": 1.5, "Speaker 2": 3659.7}
	out := render(t, withTimes, KeyJSON)
	if !strings.Contains(out, `"speaker_times"`) {
		t.Fatalf("json = %s", out)
	}
	doc = jsonDocument{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.SpeakerTimes["Speaker 2"] != 3659.7 {
		t.Fatalf("speaker times = %v", doc.SpeakerTimes)
	}
}

// TestExportUnknownFormatIsUsageError checks bad keys fail before touching disk.
func TestExportUnknownFormatIsUsageError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.docx")
	err := Export(sampleResult(false), path, "docx")
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("error = %v, want ErrUnknownFormat", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("no file should be created for unknown format")
	}
}

func TestFileNameUsesFormatExtension(t *testing.T) {
	cases := map[string]string{
		KeyTXT:   "call.txt",
		KeyTXTTS: "call.txt",
		KeySRT:   "call.srt",
		KeyJSON:  "call.json",
	}
	for key, want := range cases {
		got, err := FileName("/media/call.mp4", key)
		if err != nil || got != want {
			t.Fatalf("FileName(%s) = %q, %v; want %q", key, got, err, want)
		}
	}
}

func TestExportWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "call.srt")
	if err := Export(sampleResult(false), path, KeySRT); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), "-->") {
		t.Fatalf("file = %q, err = %v", data, err)
	}
}
