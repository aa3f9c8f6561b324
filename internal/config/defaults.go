package config

import (
	"os"
	"path/filepath"

	"batch-transcriber/internal/domain"
)

const (
	appDirName = ".batch-transcriber"

	DefaultModelName       = "base"
	DefaultPerformanceMode = "balanced"
	DefaultExportFormat    = "txt"
	DefaultDiarizationURL  = "http://localhost:8388"
	DefaultLMStudioURL     = "http://localhost:1234/v1"
)

// AppDir returns the per-user application directory.
func AppDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, appDirName)
}

// DefaultPath is where the desktop app keeps its settings file.
func DefaultPath() string {
	return filepath.Join(AppDir(), "settings.json")
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ModelsDir:       filepath.Join(AppDir(), "models"),
		ModelName:       DefaultModelName,
		Language:        "auto",
		PerformanceMode: DefaultPerformanceMode,
		OutputDir:       filepath.Join(homeDir, "Documents", "Transcripts"),
		ExportFormat:    DefaultExportFormat,
		MinSpeakers:     1,
		MaxSpeakers:     10,
		DiarizationURL:  DefaultDiarizationURL,
		LMStudioURL:     DefaultLMStudioURL,
		FFmpegPath:      "ffmpeg",
		WhisperPath:     "whisper-cli",
		LogLevel:        "info",
	}
}
