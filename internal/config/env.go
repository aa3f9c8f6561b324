package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"batch-transcriber/internal/domain"
)

// EnvPrefix namespaces environment overrides, e.g. TRANSCRIBER_HF_TOKEN.
const EnvPrefix = "TRANSCRIBER"

// envOverrides lists settings that may be supplied through the environment.
// Pointer fields stay nil when the variable is unset.
type envOverrides struct {
	ModelsDir          string `envconfig:"MODELS_DIR"`
	ModelName          string `envconfig:"MODEL"`
	Language           string `envconfig:"LANGUAGE"`
	OutputDir          string `envconfig:"OUTPUT_DIR"`
	PerformanceMode    string `envconfig:"PERFORMANCE_MODE"`
	Threads            *int   `envconfig:"THREADS"`
	DiarizationEnabled *bool  `envconfig:"DIARIZATION"`
	HFToken            string `envconfig:"HF_TOKEN"`
	DiarizationURL     string `envconfig:"DIARIZATION_URL"`
	LMStudioURL        string `envconfig:"LM_STUDIO_URL"`
	FFmpegPath         string `envconfig:"FFMPEG"`
	WhisperPath        string `envconfig:"WHISPER"`
	LogLevel           string `envconfig:"LOG_LEVEL"`
}

// ApplyEnv loads the given dotenv files (".env" when none are given; missing
// files are skipped) and overlays TRANSCRIBER_* variables onto s.
func ApplyEnv(s domain.Settings, envFiles ...string) (domain.Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	present := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		} else if !errors.Is(err, os.ErrNotExist) {
			return s, fmt.Errorf("stat env file %s: %w", f, err)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return s, fmt.Errorf("load env files: %w", err)
		}
	}

	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return s, fmt.Errorf("read environment: %w", err)
	}

	setString(&s.ModelsDir, o.ModelsDir)
	setString(&s.ModelName, o.ModelName)
	setString(&s.Language, o.Language)
	setString(&s.OutputDir, o.OutputDir)
	setString(&s.PerformanceMode, o.PerformanceMode)
	setString(&s.HFToken, o.HFToken)
	setString(&s.DiarizationURL, o.DiarizationURL)
	setString(&s.LMStudioURL, o.LMStudioURL)
	setString(&s.FFmpegPath, o.FFmpegPath)
	setString(&s.WhisperPath, o.WhisperPath)
	setString(&s.LogLevel, o.LogLevel)
	if o.Threads != nil {
		s.Threads = *o.Threads
	}
	if o.DiarizationEnabled != nil {
		s.DiarizationEnabled = *o.DiarizationEnabled
	}
	return s, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// EnvStore overlays environment overrides on every Load. Save writes the
// settings it is given unchanged.
type EnvStore struct {
	inner    Store
	envFiles []string
}

// NewEnvStore wraps inner.
func NewEnvStore(inner Store, envFiles ...string) *EnvStore {
	return &EnvStore{inner: inner, envFiles: envFiles}
}

func (s *EnvStore) Load() (domain.Settings, error) {
	settings, err := s.inner.Load()
	if err != nil {
		return domain.Settings{}, err
	}
	return ApplyEnv(settings, s.envFiles...)
}

func (s *EnvStore) Save(cfg domain.Settings) error {
	return s.inner.Save(cfg)
}
