package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/PabloGalante/katana-portal/internal/adapters/sse"
	"github.com/PabloGalante/katana-portal/internal/domain"
)

// maxErrorBody bounds how much of a failed upstream response is kept for logs.
const maxErrorBody = 4 << 10

// UpstreamError is a non-OK response from the provider. Body is for logs
// only and must never reach the browser.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
}

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	hc := cfg.HTTPClient
	if hc == nil {
		// no client-side timeout: the provider's own limits apply
		hc = &http.Client{}
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  hc,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Configured() error {
	if c.apiKey == "" {
		return fmt.Errorf("openai: %w", domain.ErrMissingCredential)
	}
	return nil
}

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Stream      bool                 `json:"stream"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
}

// StreamChat issues a streaming chat-completion call. A non-OK status is
// returned as *UpstreamError before any token is read.
func (c *OpenAIClient) StreamChat(ctx context.Context, messages []domain.ChatMessage) (domain.TokenStream, error) {
	if err := c.Configured(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	return newBodyStream(resp.Body), nil
}

// ParseStream yields choices[0].delta.content from each SSE data line until
// [DONE]. Lines that are not valid JSON are skipped: providers interleave
// heartbeats and can cut a frame at a buffer boundary. An in-band
// {"error":{...}} object ends the stream with an error.
func ParseStream(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for payload, err := range sse.Data(r) {
			if err != nil {
				yield("", fmt.Errorf("read upstream stream: %w", err))
				return
			}
			if !gjson.Valid(payload) {
				continue
			}
			if msg := gjson.Get(payload, "error.message"); msg.Exists() {
				yield("", fmt.Errorf("upstream stream error: %s", msg.String()))
				return
			}
			content := gjson.Get(payload, "choices.0.delta.content")
			if content.Type != gjson.String || content.Str == "" {
				continue
			}
			if !yield(content.Str, nil) {
				return
			}
		}
	}
}

type bodyStream struct {
	body io.ReadCloser
	once sync.Once
	err  error
}

func newBodyStream(body io.ReadCloser) *bodyStream {
	return &bodyStream{body: body}
}

func (s *bodyStream) Tokens() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for tok, err := range ParseStream(s.body) {
			if !yield(tok, err) {
				return
			}
		}
	}
}

func (s *bodyStream) Close() error {
	s.once.Do(func() { s.err = s.body.Close() })
	return s.err
}
