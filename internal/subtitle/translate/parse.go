package translate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoTranslations = errors.New("no translations in response")

type translationPair struct {
	ID             json.RawMessage `json:"id"`
	TranslatedText string          `json:"translated_text"`
	Translation    string          `json:"translation"`
	Text           string          `json:"text"`
}

// parseTranslations extracts id to text pairs from a model reply. It accepts
// {"translations": [{id, translated_text}]}, a bare array of such objects, a
// plain array of strings matched by position, and an object keyed by id.
func parseTranslations(content string, items []Item) (map[string]string, error) {
	content = strings.TrimSpace(stripFence(content))
	// LLMs sometimes return ASS-style \N (line break) which is invalid JSON escape
	content = strings.ReplaceAll(content, `\N`, `\n`)
	if content == "" {
		return nil, errNoTranslations
	}

	if m, ok := decodeTranslations([]byte(content), items); ok {
		return m, nil
	}

	// Try to extract JSON from response text
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(content, pair[0])
		end := strings.LastIndex(content, pair[1])
		if start >= 0 && end > start {
			if m, ok := decodeTranslations([]byte(content[start:end+1]), items); ok {
				return m, nil
			}
		}
	}
	return nil, fmt.Errorf("parse translations: %s", truncate(content, 200))
}

func decodeTranslations(data []byte, items []Item) (map[string]string, bool) {
	var wrapped struct {
		Translations json.RawMessage `json:"translations"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Translations) > 0 {
		if m, ok := decodeArray(wrapped.Translations, items); ok {
			return m, true
		}
	}

	if m, ok := decodeArray(data, items); ok {
		return m, true
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(data, &keyed); err == nil {
		out := make(map[string]string)
		for _, it := range items {
			var s string
			if raw, ok := keyed[it.ID]; ok && json.Unmarshal(raw, &s) == nil {
				out[it.ID] = s
			}
		}
		if len(out) > 0 {
			return out, true
		}
		// A single array-valued field, e.g. {"result": [...]}
		for _, v := range keyed {
			if m, ok := decodeArray(v, items); ok {
				return m, true
			}
		}
	}
	return nil, false
}

func decodeArray(data []byte, items []Item) (map[string]string, bool) {
	var pairs []translationPair
	if err := json.Unmarshal(data, &pairs); err == nil {
		out := make(map[string]string, len(pairs))
		for _, p := range pairs {
			id := rawID(p.ID)
			if id == "" {
				continue
			}
			text := p.TranslatedText
			if text == "" {
				text = firstNonEmpty([]string{p.Translation, p.Text})
			}
			out[id] = text
		}
		if len(out) > 0 {
			return out, true
		}
	}

	var positional []string
	// Without ids a list only lines up when nothing was dropped
	if err := json.Unmarshal(data, &positional); err == nil && len(positional) > 0 && len(positional) == len(items) {
		out := make(map[string]string, len(items))
		for i, it := range items {
			out[it.ID] = positional[i]
		}
		return out, true
	}
	return nil, false
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// userPrompt lists the batch as JSON so the model can echo ids back.
func userPrompt(items []Item) (string, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Translate the \"text\" of each subtitle below. ")
	b.WriteString("Return ONLY a JSON object of the form ")
	b.WriteString(`{"translations":[{"id":"<id>","translated_text":"<translation>"}]}`)
	b.WriteString(", with one entry per input id and no extra commentary.\n\n")
	b.Write(payload)
	return b.String(), nil
}
