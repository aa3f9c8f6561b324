package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestApplyEnvOverridesSettings checks TRANSCRIBER_* variables win over file values.
func TestApplyEnvOverridesSettings(t *testing.T) {
	t.Setenv("TRANSCRIBER_HF_TOKEN", "hf_from_environment")
	t.Setenv("TRANSCRIBER_THREADS", "6")
	t.Setenv("TRANSCRIBER_DIARIZATION", "true")

	base := DefaultSettings()
	got, err := ApplyEnv(base, filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if got.HFToken != "hf_from_environment" {
		t.Fatalf("token = %q", got.HFToken)
	}
	if got.Threads != 6 {
		t.Fatalf("threads = %d, want 6", got.Threads)
	}
	if !got.DiarizationEnabled {
		t.Fatal("expected diarization enabled")
	}
	if got.ModelName != base.ModelName {
		t.Fatalf("unset variable changed model: %q", got.ModelName)
	}
}

// TestApplyEnvLoadsDotenvFile checks values from a dotenv file are applied.
func TestApplyEnvLoadsDotenvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte("TRANSCRIBER_MODEL=large-v3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("TRANSCRIBER_MODEL") })

	got, err := ApplyEnv(DefaultSettings(), envFile)
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if got.ModelName != "large-v3" {
		t.Fatalf("model = %q, want large-v3", got.ModelName)
	}
}

// TestApplyEnvRejectsMalformedNumber checks envconfig parse errors surface.
func TestApplyEnvRejectsMalformedNumber(t *testing.T) {
	t.Setenv("TRANSCRIBER_THREADS", "many")
	if _, err := ApplyEnv(DefaultSettings(), filepath.Join(t.TempDir(), "none.env")); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestEnvStoreOverlaysOnLoadOnly checks the file keeps its own values.
func TestEnvStoreOverlaysOnLoadOnly(t *testing.T) {
	t.Setenv("TRANSCRIBER_LANGUAGE", "de")
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewEnvStore(NewJSONStore(path), filepath.Join(t.TempDir(), "absent.env"))

	settings := DefaultSettings()
	settings.Language = "fr"
	if err := store.Save(settings); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Language != "de" {
		t.Fatalf("language = %q, want de", loaded.Language)
	}

	raw, err := Load(path)
	if err != nil {
		t.Fatalf("raw load: %v", err)
	}
	if raw.Language != "fr" {
		t.Fatalf("file language = %q, want fr", raw.Language)
	}
}
