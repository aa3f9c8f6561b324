package diagnostics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"batch-transcriber/internal/domain"
)

func foundTool(name string) (string, error) { return "/usr/local/bin/" + name, nil }

func osChecker(lookPath func(string) (string, error)) *Checker {
	return NewCheckerForTests(lookPath, os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "ggml-base.bin"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	checker := osChecker(foundTool).
		WithDiarizer(ProbeFunc(func(context.Context) bool { return true })).
		WithTextAssistant(ProbeFunc(func(context.Context) bool { return true }))

	report := checker.Run(context.Background(), domain.Settings{
		ModelsDir:          modelDir,
		ModelName:          "base",
		OutputDir:          filepath.Join(root, "output"),
		DiarizationEnabled: true,
		HFToken:            "hf_abcdefghijklmnop",
		LMStudioURL:        "http://localhost:1234/v1",
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	for _, item := range report.Items {
		if item.Status != domain.DiagnosticStatusPass {
			t.Fatalf("item %s = %s: %s", item.ID, item.Status, item.Message)
		}
	}
	if len(report.Items) != 6 {
		t.Fatalf("items = %d, want 6", len(report.Items))
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := osChecker(func(string) (string, error) { return "", errors.New("not found") })

	report := checker.Run(context.Background(), domain.Settings{
		ModelsDir: "",
		ModelName: "base",
		OutputDir: "",
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, "tool_whisper", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "models", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusWarn)
}

// TestCheckerModelNotDownloadedWarns treats lazy download as a warning.
func TestCheckerModelNotDownloadedWarns(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "ggml-tiny.bin"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	report := osChecker(foundTool).Run(context.Background(), domain.Settings{
		ModelsDir: modelDir,
		ModelName: "small",
		OutputDir: filepath.Join(root, "output"),
	})

	assertStatusByID(t, report, "models", domain.DiagnosticStatusWarn)
	if report.HasFailures {
		t.Fatalf("warnings must not count as failures: %+v", report.Items)
	}

	missing := osChecker(foundTool).Run(context.Background(), domain.Settings{
		ModelsDir: filepath.Join(root, "not-yet"),
		ModelName: "small",
	})
	assertStatusByID(t, missing, "models", domain.DiagnosticStatusWarn)

	unknown := osChecker(foundTool).Run(context.Background(), domain.Settings{
		ModelsDir: modelDir,
		ModelName: "gigantic",
	})
	assertStatusByID(t, unknown, "models", domain.DiagnosticStatusFail)
}

// TestCheckerDiarizationWarnings covers token and sidecar problems.
func TestCheckerDiarizationWarnings(t *testing.T) {
	settings := domain.Settings{ModelsDir: t.TempDir(), ModelName: "base", DiarizationEnabled: true, HFToken: "short"}

	report := osChecker(foundTool).Run(context.Background(), settings)
	assertStatusByID(t, report, "diarization", domain.DiagnosticStatusWarn)

	settings.HFToken = "hf_abcdefghijklmnop"
	down := osChecker(foundTool).WithDiarizer(ProbeFunc(func(context.Context) bool { return false }))
	report = down.Run(context.Background(), settings)
	assertStatusByID(t, report, "diarization", domain.DiagnosticStatusWarn)
	if report.HasFailures {
		t.Fatal("diarization problems must not fail diagnostics")
	}

	settings.DiarizationEnabled = false
	report = down.Run(context.Background(), settings)
	for _, item := range report.Items {
		if item.ID == "diarization" {
			t.Fatal("diarization check should be skipped when disabled")
		}
	}
}

// TestCheckerUsesConfiguredToolPaths looks up the configured binaries.
func TestCheckerUsesConfiguredToolPaths(t *testing.T) {
	var looked []string
	checker := osChecker(func(name string) (string, error) {
		looked = append(looked, name)
		return name, nil
	})
	checker.Run(context.Background(), domain.Settings{
		ModelsDir:   t.TempDir(),
		ModelName:   "base",
		FFmpegPath:  "/opt/ffmpeg/bin/ffmpeg",
		WhisperPath: "/opt/whisper/whisper-cli",
	})
	if len(looked) != 2 || looked[0] != "/opt/ffmpeg/bin/ffmpeg" || looked[1] != "/opt/whisper/whisper-cli" {
		t.Fatalf("looked up %v", looked)
	}
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
