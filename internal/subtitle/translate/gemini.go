package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/video-stream/subtitler/internal/logging"
)

const (
	geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"
)

// GeminiEndpoint translates subtitles using Google Gemini API
type GeminiEndpoint struct {
	apiKey     string
	model      string
	baseURL    string
	presets    *Presets
	httpClient *http.Client
	logger     *slog.Logger
}

func NewGeminiEndpoint(apiKey, model string, presets *Presets, logger *slog.Logger) *GeminiEndpoint {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiEndpoint{
		apiKey:  apiKey,
		model:   model,
		baseURL: geminiAPIBase,
		presets: presets,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logging.Component(logger, "gemini"),
	}
}

func (g *GeminiEndpoint) Name() string {
	return "gemini"
}

func (g *GeminiEndpoint) TranslateBatch(ctx context.Context, items []Item, opts Options) (map[string]string, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("Gemini API key not configured")
	}

	prompt, err := userPrompt(items)
	if err != nil {
		return nil, err
	}

	// Build Gemini API request
	reqBody := map[string]interface{}{
		"system_instruction": map[string]interface{}{
			"parts": []map[string]string{
				{"text": g.presets.SystemPrompt(opts)},
			},
		},
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]string{
					{"text": prompt},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature":      0.3,
			"responseMimeType": "application/json",
		},
		"safetySettings": []map[string]string{
			{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Gemini API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Gemini API error (status %d): %s", resp.StatusCode, truncate(string(body), 300))
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}

	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		if geminiResp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("Gemini blocked: %s", geminiResp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("empty Gemini response")
	}

	if fr := geminiResp.Candidates[0].FinishReason; fr != "" && fr != "STOP" {
		g.logger.Warn("unexpected finish reason", "finish_reason", fr, "model", g.model)
	}

	return parseTranslations(geminiResp.Candidates[0].Content.Parts[0].Text, items)
}
