package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"batch-transcriber/internal/domain"
)

const (
	// PyannoteName identifies the sidecar backend.
	PyannoteName = "pyannote"

	DefaultPyannoteURL   = "http://localhost:8388"
	DefaultPipelineModel = "pyannote/speaker-diarization-3.1"

	defaultPyannoteTimeout = 30 * time.Minute
	healthTimeout          = 5 * time.Second
	minTokenLength         = 10
)

// devicePriority orders compute devices from most to least preferred.
var devicePriority = []string{"mps", "cuda", "cpu"}

// PyannoteConfig configures the sidecar client.
type PyannoteConfig struct {
	BaseURL string
	Token   string
	Model   string
	Timeout time.Duration
}

// Pyannote talks to a local pyannote-audio HTTP sidecar. Availability is
// probed once per instance; the pipeline is loaded on the first Diarize call.
type Pyannote struct {
	cfg    PyannoteConfig
	client *http.Client
	log    zerolog.Logger

	availMu   sync.Mutex
	available *bool
	devices   []string

	loadMu sync.Mutex
	loaded bool
	device string
}

// NewPyannote creates a sidecar client.
func NewPyannote(cfg PyannoteConfig, log zerolog.Logger) *Pyannote {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPyannoteURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultPipelineModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultPyannoteTimeout
	}
	return &Pyannote{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

func (p *Pyannote) Name() string { return PyannoteName }

// IsAvailable requires a plausible token and a reachable sidecar. The
// answer is cached until Refresh.
func (p *Pyannote) IsAvailable(ctx context.Context) bool {
	p.availMu.Lock()
	defer p.availMu.Unlock()
	if p.available != nil {
		return *p.available
	}

	ok := len(strings.TrimSpace(p.cfg.Token)) > minTokenLength
	if ok {
		devices, err := p.health(ctx)
		if err != nil {
			p.log.Debug().Err(err).Msg("diarization sidecar unreachable")
			ok = false
		} else {
			p.devices = devices
		}
	}
	p.available = &ok
	return ok
}

// Refresh forgets the cached availability probe.
func (p *Pyannote) Refresh() {
	p.availMu.Lock()
	p.available = nil
	p.devices = nil
	p.availMu.Unlock()
}

// Device returns the compute device chosen for the loaded pipeline.
func (p *Pyannote) Device() string {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	return p.device
}

type healthResponse struct {
	Status  string   `json:"status"`
	Devices []string `json:"devices"`
}

func (p *Pyannote) health(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health status %d", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// A bare 200 still means the sidecar is up; devices default to cpu.
		return nil, nil
	}
	return body.Devices, nil
}

// pickDevice returns the most preferred device the sidecar reports.
func pickDevice(reported []string) string {
	have := map[string]bool{}
	for _, d := range reported {
		have[strings.ToLower(d)] = true
	}
	for _, d := range devicePriority {
		if have[d] {
			return d
		}
	}
	return "cpu"
}

type loadRequest struct {
	Model  string `json:"model"`
	Token  string `json:"token"`
	Device string `json:"device"`
}

// loadPipeline asks the sidecar to construct the pipeline once. Failures are
// not cached so a later call may retry.
func (p *Pyannote) loadPipeline(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if p.loaded {
		return nil
	}

	p.availMu.Lock()
	device := pickDevice(p.devices)
	p.availMu.Unlock()

	payload, err := json.Marshal(loadRequest{Model: p.cfg.Model, Token: p.cfg.Token, Device: device})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPipelineLoad, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/pipeline", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPipelineLoad, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrPipelineLoad, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrPipelineLoad, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	p.loaded = true
	p.device = device
	p.log.Info().Str("model", p.cfg.Model).Str("device", device).Msg("diarization pipeline loaded")
	return nil
}

type pyannoteResponse struct {
	Segments []pyannoteSegment `json:"segments"`
	Error    string            `json:"error,omitempty"`
}

type pyannoteSegment struct {
	SpeakerID  string  `json:"speaker_id"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Diarize uploads the waveform and relabels the returned tracks.
func (p *Pyannote) Diarize(ctx context.Context, req Request, progress ProgressFunc) (domain.DiarizationResult, error) {
	if !p.IsAvailable(ctx) {
		return domain.DiarizationResult{}, fmt.Errorf("%w: check the access token and the diarization service", ErrUnavailable)
	}

	report(progress, 10, "Loading diarization model...")
	if err := p.loadPipeline(ctx); err != nil {
		return domain.DiarizationResult{}, err
	}

	report(progress, 30, "Analyzing speakers...")
	raw, err := p.run(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.DiarizationResult{}, ctx.Err()
		}
		return domain.DiarizationResult{}, fmt.Errorf("diarization failed: %w", err)
	}

	report(progress, 80, "Processing results...")
	tracks := make([]rawTrack, 0, len(raw.Segments))
	for _, s := range raw.Segments {
		tracks = append(tracks, rawTrack{Start: s.StartTime, End: s.EndTime, Label: s.SpeakerID, Confidence: s.Confidence})
	}
	result := assemble(tracks)

	report(progress, 100, fmt.Sprintf("Found %d speakers", result.NumSpeakers))
	return result, nil
}

func (p *Pyannote) run(ctx context.Context, req Request) (*pyannoteResponse, error) {
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	num, minSpk, maxSpk := req.speakerParams()
	if num > 0 {
		_ = writer.WriteField("num_speakers", strconv.Itoa(num))
	} else {
		_ = writer.WriteField("min_speakers", strconv.Itoa(minSpk))
		_ = writer.WriteField("max_speakers", strconv.Itoa(maxSpk))
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/diarize", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("diarization request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result pyannoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode diarization response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%s", result.Error)
	}
	return &result, nil
}
