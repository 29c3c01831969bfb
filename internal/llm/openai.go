package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	nexuserrors "nexus/internal/errors"
	"nexus/internal/httpclient"
	"nexus/internal/logging"
)

const errorBodyLimit = 256 * 1024

// OpenAIConfig configures one OpenAI-compatible streaming client. Most
// providers in the catalog speak this dialect behind different base URLs.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  logging.Logger
}

// OpenAIClient streams chat completions from an OpenAI-compatible endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIClient builds a streaming client. A zero timeout disables the
// client-side deadline so long completions are not cut off.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	logger := logging.OrNop(cfg.Logger)
	client := httpclient.New(cfg.Timeout, logger)
	if cfg.Timeout <= 0 {
		client.Timeout = 0
	}
	return &OpenAIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: client,
		logger:     logger,
	}
}

func (c *OpenAIClient) Model() string {
	return c.model
}

// StreamChat posts a streaming completion request and forwards content deltas
// to onDelta as they arrive. Malformed stream chunks are logged and skipped
// rather than failing the whole stream.
func (c *OpenAIClient) StreamChat(ctx context.Context, req ChatRequest, onDelta func(string)) error {
	oaiReq := map[string]any{
		"model":    c.model,
		"messages": req.Messages,
		"stream":   true,
	}
	if req.Temperature > 0 {
		oaiReq["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		oaiReq["max_tokens"] = req.MaxTokens
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("LLM request: POST %s model=%s", endpoint, c.model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llm request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := httpclient.ReadAllWithLimit(resp.Body, errorBodyLimit)
		if readErr != nil {
			return fmt.Errorf("read error response: %w", readErr)
		}
		c.logger.Debug("LLM error response: status=%d body=%s", resp.StatusCode, respBody)
		return nexuserrors.FromHTTPStatus(resp.StatusCode, respBody)
	}

	type streamChunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Debug("Skipping undecodable stream chunk: %v", err)
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				onDelta(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read llm stream: %w", err)
	}
	return nil
}
