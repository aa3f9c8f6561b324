package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"batch-transcriber/internal/execx"
)

// fakeRunner simulates ffmpeg invocations.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (execx.Result, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (execx.Result, error) {
	if f.run == nil {
		return execx.Result{}, nil
	}
	return f.run(ctx, name, args...)
}

func foundTool(name string) (string, error) { return "/usr/bin/" + name, nil }

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// TestNeedsConversion checks extension-only decisions.
func TestNeedsConversion(t *testing.T) {
	cases := map[string]bool{
		"/a/meeting.WAV": false,
		"/a/meeting.wav": false,
		"/a/meeting.mp3": true,
		"/a/clip.mkv":    true,
		"/a/noext":       true,
	}
	for path, want := range cases {
		if got := NeedsConversion(path); got != want {
			t.Fatalf("NeedsConversion(%q) = %v, want %v", path, got, want)
		}
	}
	if !IsSupported("/x/y.M4V") || IsSupported("/x/y.txt") {
		t.Fatal("IsSupported mismatch")
	}
}

// TestNormalizeSkipsNativeWaveform checks no process runs for wav input.
func TestNormalizeSkipsNativeWaveform(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, string, ...string) (execx.Result, error) {
		t.Fatal("runner should not be called")
		return execx.Result{}, nil
	}}
	n := NewNormalizer("ffmpeg", zerolog.Nop(), WithRunner(runner), WithLookPath(foundTool))

	out, err := n.Normalize(context.Background(), "/in/audio.wav")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if out.Converted || out.Path != "/in/audio.wav" {
		t.Fatalf("output = %+v", out)
	}
	if err := out.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

// TestNormalizeConvertsAndCleansUp checks args, output naming, and temp removal.
func TestNormalizeConvertsAndCleansUp(t *testing.T) {
	var gotArgs []string
	runner := &fakeRunner{run: func(_ context.Context, name string, args ...string) (execx.Result, error) {
		gotArgs = args
		mustWriteFile(t, args[len(args)-1], "RIFF")
		return execx.Result{}, nil
	}}
	n := NewNormalizer("ffmpeg", zerolog.Nop(), WithRunner(runner), WithLookPath(foundTool))

	out, err := n.Normalize(context.Background(), "/in/Team Call.mp4")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !out.Converted {
		t.Fatal("expected converted output")
	}
	if filepath.Base(out.Path) != "Team Call_16k.wav" {
		t.Fatalf("output name = %q", filepath.Base(out.Path))
	}
	for _, want := range []string{"-ac", "1", "-ar", "16000", "pcm_s16le"} {
		found := false
		for _, a := range gotArgs {
			if a == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("args %v missing %q", gotArgs, want)
		}
	}

	if err := out.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(out.Path)); !os.IsNotExist(err) {
		t.Fatalf("temp dir still present: %v", err)
	}
	if err := out.Cleanup(); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

// TestNormalizeToolMissing checks the missing-tool failure kind.
func TestNormalizeToolMissing(t *testing.T) {
	n := NewNormalizer("ffmpeg", zerolog.Nop(), WithLookPath(func(string) (string, error) {
		return "", errors.New("not found")
	}))

	_, err := n.Normalize(context.Background(), "/in/a.mp3")
	if !errors.Is(err, ErrToolMissing) {
		t.Fatalf("error = %v, want ErrToolMissing", err)
	}
	if errors.Is(err, ErrConversionFailed) {
		t.Fatal("missing tool must be distinguishable from conversion failure")
	}
}

// TestNormalizeProcessFailureRemovesTemp checks failure kind and temp cleanup.
func TestNormalizeProcessFailureRemovesTemp(t *testing.T) {
	var tempDir string
	runner := &fakeRunner{run: func(_ context.Context, _ string, args ...string) (execx.Result, error) {
		tempDir = filepath.Dir(args[len(args)-1])
		return execx.Result{ExitCode: 1, Stderr: "header\nInvalid data found\n"}, errors.New("exit status 1")
	}}
	n := NewNormalizer("ffmpeg", zerolog.Nop(), WithRunner(runner), WithLookPath(foundTool))

	_, err := n.Normalize(context.Background(), "/in/a.ogg")
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("error = %v, want ErrConversionFailed", err)
	}
	var convErr *ConversionError
	if !errors.As(err, &convErr) || convErr.CommandLog.ExitCode != 1 || convErr.Message != "Invalid data found" {
		t.Fatalf("conversion error = %+v", convErr)
	}
	if _, statErr := os.Stat(tempDir); !os.IsNotExist(statErr) {
		t.Fatalf("temp dir not removed: %v", statErr)
	}
}

// TestNormalizeTimeout checks the bounded conversion is a failure, not a cancellation.
func TestNormalizeTimeout(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, _ string, _ ...string) (execx.Result, error) {
		<-ctx.Done()
		return execx.Result{ExitCode: -1}, ctx.Err()
	}}
	n := NewNormalizer("ffmpeg", zerolog.Nop(), WithRunner(runner), WithLookPath(foundTool), WithTimeout(20*time.Millisecond))

	_, err := n.Normalize(context.Background(), "/in/a.flac")
	if !errors.Is(err, ErrConversionTimeout) {
		t.Fatalf("error = %v, want ErrConversionTimeout", err)
	}
}

// TestNormalizeCancelled checks caller cancellation passes through as ctx error.
func TestNormalizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{run: func(ctx context.Context, _ string, _ ...string) (execx.Result, error) {
		cancel()
		<-ctx.Done()
		return execx.Result{ExitCode: -1}, ctx.Err()
	}}
	n := NewNormalizer("ffmpeg", zerolog.Nop(), WithRunner(runner), WithLookPath(foundTool))

	_, err := n.Normalize(ctx, "/in/a.flac")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		t.Fatal("cancellation must not be reported as conversion failure")
	}
}

// TestNormalizeMissingOutput checks a zero-exit run without output fails.
func TestNormalizeMissingOutput(t *testing.T) {
	n := NewNormalizer("ffmpeg", zerolog.Nop(), WithRunner(&fakeRunner{}), WithLookPath(foundTool))

	_, err := n.Normalize(context.Background(), "/in/a.webm")
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("error = %v, want ErrConversionFailed", err)
	}
}
