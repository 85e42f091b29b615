package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const deeplAPIURL = "https://api-free.deepl.com/v2/translate"

// DeepLEndpoint translates subtitles using the DeepL API. DeepL answers
// positionally, so ids are matched by request order.
type DeepLEndpoint struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

func NewDeepLEndpoint(apiKey string) *DeepLEndpoint {
	u := deeplAPIURL
	if apiKey != "" && !strings.HasSuffix(apiKey, ":fx") {
		u = "https://api.deepl.com/v2/translate"
	}
	return &DeepLEndpoint{
		apiKey: apiKey,
		url:    u,
		httpClient: &http.Client{
			Timeout: 1 * time.Minute,
		},
	}
}

func (d *DeepLEndpoint) Name() string {
	return "deepl"
}

func (d *DeepLEndpoint) TranslateBatch(ctx context.Context, items []Item, opts Options) (map[string]string, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("DeepL API key not configured")
	}

	form := url.Values{}
	for _, it := range items {
		form.Add("text", it.Text)
	}
	form.Set("target_lang", deeplLangCode(opts.TargetLang))
	if opts.SourceLang != "" && opts.SourceLang != "auto" {
		form.Set("source_lang", deeplLangCode(opts.SourceLang))
	}

	// Map preset to DeepL formality
	switch opts.Preset {
	case "documentary":
		form.Set("formality", "prefer_more")
	case "anime":
		form.Set("formality", "prefer_less")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("DeepL API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DeepL API error (status %d): %s", resp.StatusCode, truncate(string(body), 300))
	}

	var deeplResp struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}

	if err := json.Unmarshal(body, &deeplResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	out := make(map[string]string, len(items))
	for i, it := range items {
		if i < len(deeplResp.Translations) {
			out[it.ID] = deeplResp.Translations[i].Text
		}
	}
	return out, nil
}

// deeplLangCode converts ISO 639-1 codes to DeepL format
func deeplLangCode(code string) string {
	mapping := map[string]string{
		"en": "EN-US",
		"pt": "PT-BR",
		"zh": "ZH",
	}
	code = strings.ToLower(strings.TrimSpace(code))
	if mapped, ok := mapping[code]; ok {
		return mapped
	}
	return strings.ToUpper(code)
}
