package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"batch-transcriber/internal/config"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/engine"
)

// GetWhisperModels returns the whisper.cpp presets with download state from
// the configured models directory.
func (a *App) GetWhisperModels() []domain.ModelOption {
	settings, err := a.loadSettings()
	if err != nil {
		a.log.Warn().Err(err).Msg("model catalog using default settings")
		settings = config.DefaultSettings()
	}
	return a.currentServices(settings).models.Catalog()
}

// DownloadWhisperModel fetches the named model if missing and makes it the
// selected model.
func (a *App) DownloadWhisperModel(name string) (domain.Settings, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Settings{}, fmt.Errorf("model name is required")
	}
	if !engine.KnownModel(name) {
		return domain.Settings{}, fmt.Errorf("unknown model: %s", name)
	}

	settings, err := a.loadSettings()
	if err != nil {
		return domain.Settings{}, err
	}
	store := a.currentServices(settings).models
	if _, err := store.Ensure(context.Background(), name); err != nil {
		return domain.Settings{}, fmt.Errorf("download model %s: %w", name, err)
	}
	store.Refresh()

	settings.ModelName = name
	return a.SaveSettings(settings)
}
