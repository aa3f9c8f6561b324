// Package export writes finished transcription results to text and subtitle
// formats.
package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"batch-transcriber/internal/domain"
)

// ErrUnknownFormat is returned for a format key that is not registered.
var ErrUnknownFormat = errors.New("unknown export format")

// Format keys.
const (
	KeyTXT   = "txt"
	KeyTXTTS = "txt_ts"
	KeySRT   = "srt"
	KeyVTT   = "vtt"
	KeyJSON  = "json"
)

// Format describes one export target.
type Format struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Ext   string `json:"ext"`

	write func(w io.Writer, r domain.TranscriptionResult) error
}

var formats = []Format{
	{Key: KeyTXT, Label: "Plain Text (.txt)", Ext: ".txt", write: writeTXT},
	{Key: KeyTXTTS, Label: "Text with Timestamps (.txt)", Ext: ".txt", write: writeTXTTimestamps},
	{Key: KeySRT, Label: "SRT Subtitles (.srt)", Ext: ".srt", write: writeSRT},
	{Key: KeyVTT, Label: "WebVTT Subtitles (.vtt)", Ext: ".vtt", write: writeVTT},
	{Key: KeyJSON, Label: "JSON (.json)", Ext: ".json", write: writeJSON},
}

// Formats lists the registered formats in display order.
func Formats() []Format {
	out := make([]Format, len(formats))
	copy(out, formats)
	return out
}

// Lookup finds a format by key.
func Lookup(key string) (Format, error) {
	for _, f := range formats {
		if f.Key == key {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, key)
}

// FileName derives the output file name for inputPath in format key.
func FileName(inputPath, key string) (string, error) {
	f, err := Lookup(key)
	if err != nil {
		return "", err
	}
	base := filepath.Base(inputPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "transcript"
	}
	return name + f.Ext, nil
}

// Write renders result to w.
func Write(w io.Writer, result domain.TranscriptionResult, key string) error {
	f, err := Lookup(key)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err := f.write(bw, result); err != nil {
		return err
	}
	return bw.Flush()
}

// Export writes result to path in format key.
func Export(result domain.TranscriptionResult, path, key string) error {
	if _, err := Lookup(key); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	writeErr := Write(file, result, key)
	closeErr := file.Close()
	if writeErr != nil {
		return fmt.Errorf("write %s: %w", key, writeErr)
	}
	return closeErr
}

func labelled(seg domain.Segment) string {
	text := strings.TrimSpace(seg.Text)
	if seg.Speaker == "" {
		return text
	}
	return "[" + seg.Speaker + "] " + text
}

// writeTXT writes the full text, or one paragraph per speaker turn when the
// result carries speaker labels.
func writeTXT(w io.Writer, r domain.TranscriptionResult) error {
	if !r.HasSpeakers() {
		_, err := io.WriteString(w, r.FullText())
		return err
	}

	var turn []string
	current := ""
	flush := func() error {
		if len(turn) == 0 {
			return nil
		}
		_, err := fmt.Fprintf(w, "%s: %s\n\n", current, strings.Join(turn, " "))
		turn = turn[:0]
		return err
	}
	for _, seg := range r.Segments {
		if seg.Speaker != current {
			if err := flush(); err != nil {
				return err
			}
			current = seg.Speaker
		}
		turn = append(turn, strings.TrimSpace(seg.Text))
	}
	return flush()
}

func writeTXTTimestamps(w io.Writer, r domain.TranscriptionResult) error {
	for _, seg := range r.Segments {
		if _, err := fmt.Fprintf(w, "[%s] %s\n", FormatVTT(seg.Start), labelled(seg)); err != nil {
			return err
		}
	}
	return nil
}

func writeSRT(w io.Writer, r domain.TranscriptionResult) error {
	for i, seg := range r.Segments {
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, FormatSRT(seg.Start), FormatSRT(seg.End), labelled(seg)); err != nil {
			return err
		}
	}
	return nil
}

func writeVTT(w io.Writer, r domain.TranscriptionResult) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for i, seg := range r.Segments {
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, FormatVTT(seg.Start), FormatVTT(seg.End), labelled(seg)); err != nil {
			return err
		}
	}
	return nil
}

type jsonSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

type jsonDocument struct {
	Language     string             `json:"language"`
	Duration     float64            `json:"duration"`
	Text         string             `json:"text"`
	SpeakerTimes map[string]float64 `json:"speaker_times,omitempty"`
	Segments     []jsonSegment      `json:"segments"`
}

func writeJSON(w io.Writer, r domain.TranscriptionResult) error {
	doc := jsonDocument{
		Language:     r.Language,
		Duration:     r.Duration,
		Text:         r.FullText(),
		SpeakerTimes: r.SpeakerTimes,
		Segments:     make([]jsonSegment, 0, len(r.Segments)),
	}
	for _, seg := range r.Segments {
		doc.Segments = append(doc.Segments, jsonSegment{
			Start:   seg.Start,
			End:     seg.End,
			Text:    strings.TrimSpace(seg.Text),
			Speaker: seg.Speaker,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}
