package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/video-stream/subtitler/internal/logging"
)

// OpenAIEndpoint talks to any OpenAI-compatible chat completions API.
type OpenAIEndpoint struct {
	apiBase    string
	apiKey     string
	model      string
	presets    *Presets
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOpenAIEndpoint(apiBase, apiKey, model string, presets *Presets, logger *slog.Logger) *OpenAIEndpoint {
	return &OpenAIEndpoint{
		apiBase: strings.TrimRight(apiBase, "/"),
		apiKey:  apiKey,
		model:   model,
		presets: presets,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logging.Component(logger, "openai-translate"),
	}
}

func (o *OpenAIEndpoint) Name() string {
	return "openai"
}

func (o *OpenAIEndpoint) TranslateBatch(ctx context.Context, items []Item, opts Options) (map[string]string, error) {
	if o.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	prompt, err := userPrompt(items)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]interface{}{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": o.presets.SystemPrompt(opts)},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.3,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/v1/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completions request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completions error (status %d): %s", resp.StatusCode, truncate(string(body), 300))
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("empty chat completions response")
	}

	o.logger.Debug("batch translated", "items", len(items), "model", o.model)
	return parseTranslations(chatResp.Choices[0].Message.Content, items)
}
