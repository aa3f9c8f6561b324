package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"batch-transcriber/internal/execx"
)

// fakeRunner simulates whisper.cpp invocations.
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

// argValue returns the value after a flag in args.
func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// storeWithModel returns a store whose model file already exists.
func storeWithModel(t *testing.T, name string) *ModelStore {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ModelFileName(name)), []byte("weights"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return NewModelStore(dir, zerolog.Nop())
}

// writeJSON fakes whisper.cpp's -oj output next to the -of base.
func writeJSON(t *testing.T, args []string, doc string) {
	t.Helper()
	if err := os.WriteFile(argValue(args, "-of")+".json", []byte(doc), 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}
}

// TestTranscribeConvertsMillisecondOffsets checks args and ms->s conversion.
func TestTranscribeConvertsMillisecondOffsets(t *testing.T) {
	store := storeWithModel(t, "base")
	var gotArgs []string
	runner := &fakeRunner{run: func(_ context.Context, name string, args ...string) (execx.Result, error) {
		if name != "whisper-custom" {
			t.Fatalf("binary = %q", name)
		}
		gotArgs = args
		writeJSON(t, args, `{"result":{"language":"de"},"transcription":[
			{"offsets":{"from":0,"to":1500},"text":" Hallo"},
			{"offsets":{"from":1500,"to":2250},"text":"   "},
			{"offsets":{"from":2250,"to":30750},"text":" Welt"}]}`)
		return execx.Result{}, nil
	}}
	w := NewWhisper("whisper-custom", store, zerolog.Nop(), WithCommandRunner(runner))

	segments, err := w.Transcribe(context.Background(), Request{
		AudioPath: "/tmp/a.wav",
		Model:     "base",
		Language:  "DE",
		Translate: true,
		Threads:   3,
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(segments))
	}
	if segments[0].End != 1.5 || segments[1].Start != 2.25 || segments[1].End != 30.75 {
		t.Fatalf("segments = %+v", segments)
	}
	if argValue(gotArgs, "-m") != store.Path("base") {
		t.Fatalf("model arg = %q", argValue(gotArgs, "-m"))
	}
	if argValue(gotArgs, "-l") != "de" || argValue(gotArgs, "-t") != "3" || !hasArg(gotArgs, "-tr") || !hasArg(gotArgs, "-oj") {
		t.Fatalf("args = %v", gotArgs)
	}
}

// TestTranscribeAutoLanguage checks auto maps to whisper.cpp auto detection.
func TestTranscribeAutoLanguage(t *testing.T) {
	store := storeWithModel(t, "tiny")
	runner := &fakeRunner{run: func(_ context.Context, _ string, args ...string) (execx.Result, error) {
		if argValue(args, "-l") != "auto" || hasArg(args, "-tr") {
			t.Fatalf("args = %v", args)
		}
		if argValue(args, "-t") == "" || argValue(args, "-t") == "0" {
			t.Fatalf("thread arg = %q", argValue(args, "-t"))
		}
		writeJSON(t, args, `{"transcription":[{"offsets":{"from":0,"to":10},"text":"x"}]}`)
		return execx.Result{}, nil
	}}
	w := NewWhisper("", store, zerolog.Nop(), WithCommandRunner(runner))

	if _, err := w.Transcribe(context.Background(), Request{AudioPath: "a.wav", Model: "tiny", Language: "auto"}); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
}

// TestTranscribeNoSpeechIsFailure checks zero segments are a distinguished failure.
func TestTranscribeNoSpeechIsFailure(t *testing.T) {
	store := storeWithModel(t, "base")
	runner := &fakeRunner{run: func(_ context.Context, _ string, args ...string) (execx.Result, error) {
		writeJSON(t, args, `{"transcription":[]}`)
		return execx.Result{}, nil
	}}
	w := NewWhisper("whisper-cli", store, zerolog.Nop(), WithCommandRunner(runner))

	_, err := w.Transcribe(context.Background(), Request{AudioPath: "a.wav", Model: "base"})
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("error = %v, want ErrNoSpeech", err)
	}
	if err.Error() != "No speech detected in the audio file." {
		t.Fatalf("message = %q", err.Error())
	}
	if errors.Is(err, ErrModelLoad) {
		t.Fatal("no speech must not look like a model load failure")
	}
}

// TestTranscribeModelLoadFailure checks missing models that cannot be fetched.
func TestTranscribeModelLoadFailure(t *testing.T) {
	store := NewModelStore(t.TempDir(), zerolog.Nop(), WithBaseURL("http://127.0.0.1:1"), WithBackOff(noRetry))
	w := NewWhisper("whisper-cli", store, zerolog.Nop(), WithCommandRunner(&fakeRunner{
		run: func(context.Context, string, ...string) (execx.Result, error) {
			t.Fatal("runner should not be called")
			return execx.Result{}, nil
		},
	}))

	_, err := w.Transcribe(context.Background(), Request{AudioPath: "a.wav", Model: "small"})
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("error = %v, want ErrModelLoad", err)
	}
	if !strings.HasPrefix(err.Error(), "Failed to load model 'small'") {
		t.Fatalf("message = %q", err.Error())
	}
}

// TestTranscribeProcessFailureKeepsStderr checks raw diagnostics reach the caller.
func TestTranscribeProcessFailureKeepsStderr(t *testing.T) {
	store := storeWithModel(t, "base")
	runner := &fakeRunner{run: func(context.Context, string, ...string) (execx.Result, error) {
		return execx.Result{ExitCode: 1, Stderr: "ggml_cuda_init: CUDA error: out of memory\n"}, errors.New("exit status 1")
	}}
	w := NewWhisper("whisper-cli", store, zerolog.Nop(), WithCommandRunner(runner))

	_, err := w.Transcribe(context.Background(), Request{AudioPath: "a.wav", Model: "base"})
	var engErr *Error
	if !errors.As(err, &engErr) || !errors.Is(err, ErrDecode) {
		t.Fatalf("error = %v, want decode Error", err)
	}
	if engErr.CommandLog.ExitCode != 1 || !strings.Contains(engErr.Message, "CUDA error") {
		t.Fatalf("engine error = %+v", engErr)
	}
}

// TestTranscribeCancelledAfterRun checks the post-call checkpoint.
func TestTranscribeCancelledAfterRun(t *testing.T) {
	store := storeWithModel(t, "base")
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{run: func(_ context.Context, _ string, args ...string) (execx.Result, error) {
		writeJSON(t, args, `{"transcription":[{"offsets":{"from":0,"to":10},"text":"x"}]}`)
		cancel()
		return execx.Result{}, nil
	}}
	w := NewWhisper("whisper-cli", store, zerolog.Nop(), WithCommandRunner(runner))

	_, err := w.Transcribe(ctx, Request{AudioPath: "a.wav", Model: "base"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

// TestTranscribeCancelledBeforeRun checks the runner is skipped once cancelled.
func TestTranscribeCancelledBeforeRun(t *testing.T) {
	store := storeWithModel(t, "base")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWhisper("whisper-cli", store, zerolog.Nop(), WithCommandRunner(&fakeRunner{
		run: func(context.Context, string, ...string) (execx.Result, error) {
			t.Fatal("runner should not be called")
			return execx.Result{}, nil
		},
	}))

	if _, err := w.Transcribe(ctx, Request{AudioPath: "a.wav", Model: "base"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestAnnotateGPUError(t *testing.T) {
	got := AnnotateGPUError("cuda device lost")
	if !strings.HasSuffix(got, "Tip: Try selecting CPU mode in settings.") {
		t.Fatalf("annotated = %q", got)
	}
	if AnnotateGPUError(got) != got {
		t.Fatal("annotation should not repeat")
	}
	if AnnotateGPUError("disk full") != "disk full" {
		t.Fatal("non-GPU errors must be unchanged")
	}
}

func TestThreadCount(t *testing.T) {
	cases := []struct {
		mode string
		cpus int
		want int
	}{
		{ModeEfficiency, 8, 2},
		{ModeBalanced, 8, 4},
		{ModePerformance, 8, 8},
		{ModeEfficiency, 2, 1},
		{"unknown", 8, 4},
		{"unknown", 2, 2},
	}
	for _, tc := range cases {
		if got := ThreadCount(tc.mode, tc.cpus); got != tc.want {
			t.Fatalf("ThreadCount(%q, %d) = %d, want %d", tc.mode, tc.cpus, got, tc.want)
		}
	}
}

// TestPrepareUsesExistingModel makes sure Prepare runs no process.
func TestPrepareUsesExistingModel(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, string, ...string) (execx.Result, error) {
		t.Fatal("runner must not be called by Prepare")
		return execx.Result{}, nil
	}}
	w := NewWhisper("", storeWithModel(t, "tiny"), zerolog.Nop(), WithCommandRunner(runner))
	if err := w.Prepare(context.Background(), "tiny"); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
}
