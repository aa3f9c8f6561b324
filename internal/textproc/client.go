// Package textproc turns raw transcripts into cleaned, structured prose
// with an OpenAI-compatible LM Studio server, falling back to local
// heuristics when the server is unreachable.
package textproc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL     = "http://localhost:1234/v1"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.7
	DefaultTimeout     = 5 * time.Minute

	probeTimeout      = 5 * time.Second
	maxRequestRetries = 2
)

// ErrUnavailable means the LM Studio server could not be reached.
var ErrUnavailable = errors.New("LM Studio unavailable")

// Completion is one chat request.
type Completion struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

// Client talks to LM Studio's OpenAI-compatible API. The loaded model name
// is memoized until Refresh.
type Client struct {
	baseURL    string
	http       *http.Client
	newBackOff func() backoff.BackOff
	log        zerolog.Logger

	mu    sync.Mutex
	model string
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithRetry replaces the retry policy for chat requests.
func WithRetry(fn func() backoff.BackOff) ClientOption {
	return func(cl *Client) { cl.newBackOff = fn }
}

// NewClient builds a client for baseURL, e.g. http://localhost:1234/v1.
func NewClient(baseURL string, log zerolog.Logger, opts ...ClientOption) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRequestRetries)
		},
		log: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Client) models(ctx context.Context) (modelList, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var out modelList
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return out, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("%w: models returned %s", ErrUnavailable, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode models: %w", err)
	}
	return out, nil
}

// CheckConnection reports whether the server answers /models.
func (c *Client) CheckConnection(ctx context.Context) bool {
	_, err := c.models(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("LM Studio probe failed")
	}
	return err == nil
}

// LoadedModel returns the first model the server lists.
func (c *Client) LoadedModel(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.model
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	list, err := c.models(ctx)
	if err != nil {
		return "", err
	}
	if len(list.Data) == 0 {
		return "", errors.New("no model loaded in LM Studio")
	}
	id := list.Data[0].ID
	if id == "" {
		id = "Unknown"
	}
	c.mu.Lock()
	c.model = id
	c.mu.Unlock()
	return id, nil
}

// Refresh forgets the memoized model name.
func (c *Client) Refresh() {
	c.mu.Lock()
	c.model = ""
	c.mu.Unlock()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chat completion returned %d: %s", e.code, e.body)
}

// ChatCompletion sends one non-streaming chat request. Transport errors and
// 5xx responses are retried; 4xx responses are not.
func (c *Client) ChatCompletion(ctx context.Context, in Completion) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if in.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: in.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: in.Prompt})
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	payload, err := json.Marshal(chatRequest{
		Messages:    messages,
		Temperature: in.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	var content string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
			if resp.StatusCode < 500 {
				return backoff.Permanent(serr)
			}
			return serr
		}

		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode chat response: %w", err))
		}
		if len(out.Choices) == 0 {
			return backoff.Permanent(errors.New("chat response has no choices"))
		}
		content = out.Choices[0].Message.Content
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return content, nil
}
