// Package llm implements contracts.Completer over the OpenAI, Anthropic and
// Ollama chat APIs. Completions only ever enrich agent output, so callers
// treat every error here as "no enrichment".
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/rs/zerolog/log"
)

var defaultEndpoints = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com",
	"ollama":    "http://localhost:11434",
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"ollama":    "llama3.1",
}

// Client is a single-provider Completer.
type Client struct {
	kind     string
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
}

// New returns a Completer for cfg.Provider, or a nil Completer when no
// provider is set.
func New(cfg config.LLMConfig) (contracts.Completer, error) {
	if cfg.Provider == "" {
		return nil, nil
	}
	endpoint, ok := defaultEndpoints[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if cfg.BaseURL != "" {
		endpoint = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.APIKey == "" && cfg.Provider != "ollama" {
		return nil, fmt.Errorf("llm: %s requires an API key", cfg.Provider)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModels[cfg.Provider]
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	log.Info().Str("provider", cfg.Provider).Str("model", model).Msg("🧠 LLM completer configured")
	return &Client{
		kind:     cfg.Provider,
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    model,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

var _ contracts.Completer = (*Client)(nil)

// Complete sends one system + user turn and returns the text reply.
func (c *Client) Complete(ctx context.Context, req contracts.CompletionRequest) (string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = 512
	}
	var (
		text string
		err  error
	)
	start := time.Now()
	switch c.kind {
	case "anthropic":
		text, err = c.callAnthropic(ctx, req)
	case "ollama":
		// Ollama serves the OpenAI-compatible API under /v1.
		text, err = c.callOpenAI(ctx, c.endpoint+"/v1", req)
	default:
		text, err = c.callOpenAI(ctx, c.endpoint, req)
	}
	if err != nil {
		return "", err
	}
	log.Debug().Str("provider", c.kind).Dur("latency", time.Since(start)).Int("chars", len(text)).Msg("LLM completion")
	return strings.TrimSpace(text), nil
}

// postJSON sends body to url and decodes a 200 response into out.
func (c *Client) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", c.kind, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", c.kind, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", c.kind, httpResp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.kind, err)
	}
	return nil
}
