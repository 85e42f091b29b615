package translate

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/video-stream/subtitler/internal/config"
)

// Settings selects and configures an endpoint for one translation run.
// Empty fields fall back to the server defaults.
type Settings struct {
	Engine  string `json:"engine"` // "openai" (default), "gemini", "deepl"
	APIBase string `json:"api_base"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

// NewEndpoint builds the endpoint named by s.Engine.
func NewEndpoint(s Settings, defaults config.Translate, presets *Presets, logger *slog.Logger) (Endpoint, error) {
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(s.Engine)) {
	case "", "openai":
		key := pick(s.APIKey, defaults.APIKey)
		if key == "" {
			return nil, fmt.Errorf("api_key is required for the openai engine")
		}
		return NewOpenAIEndpoint(pick(s.APIBase, defaults.APIBase), key, pick(s.Model, defaults.Model), presets, logger), nil
	case "gemini":
		key := pick(s.APIKey, defaults.GeminiKey)
		if key == "" {
			return nil, fmt.Errorf("api_key is required for the gemini engine")
		}
		return NewGeminiEndpoint(key, pick(s.Model, defaults.GeminiModel), presets, logger), nil
	case "deepl":
		key := pick(s.APIKey, defaults.DeepLKey)
		if key == "" {
			return nil, fmt.Errorf("api_key is required for the deepl engine")
		}
		return NewDeepLEndpoint(key), nil
	default:
		return nil, fmt.Errorf("unknown translation engine: %s", s.Engine)
	}
}
