package main

import (
	"os"

	"batch-transcriber/internal/bootstrap"
	"batch-transcriber/internal/config"
	"batch-transcriber/internal/logging"
)

func main() {
	store := config.NewEnvStore(config.NewJSONStore(config.DefaultPath()))
	settings, err := store.Load()
	if err != nil {
		boot := logging.New(logging.Config{}, "batch-transcriber")
		boot.Fatal().Err(err).Msg("load settings")
	}

	log := logging.New(logging.Config{Level: settings.LogLevel, NoColor: os.Getenv("NO_COLOR") != ""}, "batch-transcriber")
	if err := config.Validate(settings); err != nil {
		log.Warn().Err(err).Msg("settings need attention")
	}

	app, err := bootstrap.New(store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap app")
	}

	if err := app.Run(); err != nil {
		log.Fatal().Err(err).Msg("run app")
	}
}
