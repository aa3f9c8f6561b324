package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"batch-transcriber/internal/domain"
)

const (
	// DefaultModelBaseURL hosts ggml-{name}.bin files.
	DefaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

	modelDownloadTimeout = 2 * time.Hour
	maxDownloadRetries   = 3
)

var modelCatalog = []domain.ModelOption{
	{Name: "tiny.en", Label: "Tiny (English)", SizeLabel: "~75 MB", Description: "Fastest, English-only model."},
	{Name: "tiny", Label: "Tiny", SizeLabel: "~75 MB", Description: "Fastest, lowest accuracy."},
	{Name: "base.en", Label: "Base (English)", SizeLabel: "~142 MB", Description: "Balanced speed/quality, English-only."},
	{Name: "base", Label: "Base", SizeLabel: "~142 MB", Description: "Good for most uses."},
	{Name: "small.en", Label: "Small (English)", SizeLabel: "~466 MB", Description: "Higher quality, English-only."},
	{Name: "small", Label: "Small", SizeLabel: "~466 MB", Description: "Balanced speed/accuracy."},
	{Name: "medium", Label: "Medium", SizeLabel: "~1.5 GB", Description: "High accuracy."},
	{Name: "large-v3", Label: "Large v3", SizeLabel: "~3 GB", Description: "Highest accuracy."},
	{Name: "large-v3-turbo", Label: "Turbo", SizeLabel: "~1.6 GB", Description: "Fast, high accuracy."},
	{Name: "large-v3-turbo-q5_0", Label: "Turbo Q5", SizeLabel: "~547 MB", Description: "Smallest, fastest."},
	{Name: "large-v3-turbo-q8_0", Label: "Turbo Q8", SizeLabel: "~834 MB", Description: "Better quality."},
}

// ModelFileName is the on-disk name for a model.
func ModelFileName(name string) string {
	return "ggml-" + name + ".bin"
}

// ModelStore owns the models directory. Presence of ggml-{name}.bin means
// the model is available. The availability listing is memoized until
// Refresh is called.
type ModelStore struct {
	dir        string
	baseURL    string
	client     *http.Client
	newBackOff func() backoff.BackOff
	log        zerolog.Logger

	mu        sync.Mutex
	available []string
	cached    bool
	fetching  map[string]*sync.Mutex
}

// StoreOption customizes a ModelStore.
type StoreOption func(*ModelStore)

// WithBaseURL points downloads at another mirror.
func WithBaseURL(u string) StoreOption {
	return func(s *ModelStore) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the download client.
func WithHTTPClient(c *http.Client) StoreOption {
	return func(s *ModelStore) { s.client = c }
}

// WithBackOff replaces the download retry policy.
func WithBackOff(fn func() backoff.BackOff) StoreOption {
	return func(s *ModelStore) { s.newBackOff = fn }
}

// NewModelStore creates a store rooted at dir.
func NewModelStore(dir string, log zerolog.Logger, opts ...StoreOption) *ModelStore {
	s := &ModelStore{
		dir:     dir,
		baseURL: DefaultModelBaseURL,
		client:  &http.Client{Timeout: modelDownloadTimeout},
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxDownloadRetries)
		},
		log:      log,
		fetching: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the models directory.
func (s *ModelStore) Dir() string { return s.dir }

// Path returns where model name lives, whether or not it exists.
func (s *ModelStore) Path(name string) string {
	return filepath.Join(s.dir, ModelFileName(name))
}

// URL returns the download location for model name.
func (s *ModelStore) URL(name string) string {
	return s.baseURL + "/" + ModelFileName(name)
}

// Exists checks the filesystem directly, bypassing the memoized listing.
func (s *ModelStore) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && !info.IsDir()
}

// Available lists downloaded catalog models.
func (s *ModelStore) Available() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cached {
		s.available = s.scan()
		s.cached = true
	}
	out := make([]string, len(s.available))
	copy(out, s.available)
	return out
}

// Refresh drops the memoized listing.
func (s *ModelStore) Refresh() {
	s.mu.Lock()
	s.cached = false
	s.available = nil
	s.mu.Unlock()
}

func (s *ModelStore) scan() []string {
	var names []string
	for _, m := range modelCatalog {
		if s.Exists(m.Name) {
			names = append(names, m.Name)
		}
	}
	return names
}

// Catalog returns the preset models with download state from the memoized listing.
func (s *ModelStore) Catalog() []domain.ModelOption {
	have := map[string]bool{}
	for _, name := range s.Available() {
		have[name] = true
	}

	out := make([]domain.ModelOption, len(modelCatalog))
	copy(out, modelCatalog)
	for i := range out {
		out[i].FileName = ModelFileName(out[i].Name)
		out[i].URL = s.URL(out[i].Name)
		if have[out[i].Name] {
			out[i].Downloaded = true
			out[i].LocalPath = s.Path(out[i].Name)
		}
	}
	return out
}

// KnownModel reports whether name is in the preset catalog.
func KnownModel(name string) bool {
	for _, m := range modelCatalog {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Ensure returns the model path, downloading the file first when absent.
func (s *ModelStore) Ensure(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("model name is required")
	}
	path := s.Path(name)
	if s.Exists(name) {
		return path, nil
	}

	lock := s.downloadLock(name)
	lock.Lock()
	defer lock.Unlock()
	if s.Exists(name) {
		return path, nil
	}

	s.log.Info().Str("model", name).Str("url", s.URL(name)).Msg("downloading model")
	op := func() error {
		err := downloadURLToFile(ctx, s.client, path, s.URL(name))
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.code >= 400 && statusErr.code < 500 {
			return backoff.Permanent(err)
		}
		if err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Str("model", name).Msg("model download attempt failed")
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("download %s: %w", ModelFileName(name), err)
	}
	return path, nil
}

func (s *ModelStore) downloadLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.fetching[name]
	if !ok {
		l = &sync.Mutex{}
		s.fetching[name] = l
	}
	return l
}

type httpStatusError struct {
	code   int
	status string
}

func (e *httpStatusError) Error() string {
	return "unexpected HTTP status: " + e.status
}

// downloadURLToFile streams sourceURL into a sibling temp file and renames it
// into place so a partial download never looks like a model.
func downloadURLToFile(ctx context.Context, client *http.Client, destinationPath, sourceURL string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", "batch-transcriber")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{code: resp.StatusCode, status: resp.Status}
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}
