package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

func noRetry() backoff.BackOff { return &backoff.StopBackOff{} }

func fastRetry() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
}

// TestEnsureDownloadsMissingModel checks lazy download and atomic placement.
func TestEnsureDownloadsMissingModel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/ggml-tiny.bin" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	store := NewModelStore(t.TempDir(), zerolog.Nop(), WithBaseURL(srv.URL+"/"), WithBackOff(noRetry))
	path, err := store.Ensure(context.Background(), "tiny")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "weights" {
		t.Fatalf("model file = %q, err = %v", data, err)
	}
	if _, err := os.Stat(path + ".download"); !os.IsNotExist(err) {
		t.Fatal("temp download file left behind")
	}

	if _, err := store.Ensure(context.Background(), "tiny"); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("downloads = %d, want 1", hits.Load())
	}
}

// TestEnsureRetriesServerErrors checks transient failures are retried with backoff.
func TestEnsureRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store := NewModelStore(t.TempDir(), zerolog.Nop(), WithBaseURL(srv.URL), WithBackOff(fastRetry))
	if _, err := store.Ensure(context.Background(), "base"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", hits.Load())
	}
}

// TestEnsureDoesNotRetryNotFound checks 4xx responses are permanent.
func TestEnsureDoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store := NewModelStore(t.TempDir(), zerolog.Nop(), WithBaseURL(srv.URL), WithBackOff(fastRetry))
	_, err := store.Ensure(context.Background(), "nonexistent")
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) || statusErr.code != http.StatusNotFound {
		t.Fatalf("error = %v, want 404 status error", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", hits.Load())
	}
}

// TestAvailableIsMemoizedUntilRefresh checks the listing goes stale until Refresh.
func TestAvailableIsMemoizedUntilRefresh(t *testing.T) {
	dir := t.TempDir()
	store := NewModelStore(dir, zerolog.Nop())
	if got := store.Available(); len(got) != 0 {
		t.Fatalf("available = %v, want empty", got)
	}

	if err := os.WriteFile(store.Path("small"), []byte("w"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := store.Available(); len(got) != 0 {
		t.Fatalf("available = %v, want cached empty listing", got)
	}

	store.Refresh()
	got := store.Available()
	if len(got) != 1 || got[0] != "small" {
		t.Fatalf("available = %v, want [small]", got)
	}

	var downloaded int
	for _, m := range store.Catalog() {
		if m.Downloaded {
			downloaded++
			if m.Name != "small" || m.LocalPath != store.Path("small") {
				t.Fatalf("catalog entry = %+v", m)
			}
		}
		if m.FileName != ModelFileName(m.Name) || m.URL == "" {
			t.Fatalf("catalog entry incomplete: %+v", m)
		}
	}
	if downloaded != 1 {
		t.Fatalf("downloaded entries = %d, want 1", downloaded)
	}
}

func TestKnownModel(t *testing.T) {
	if !KnownModel("large-v3-turbo-q5_0") || KnownModel("huge") {
		t.Fatal("KnownModel mismatch")
	}
}
