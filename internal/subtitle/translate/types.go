package translate

import "context"

// Item is one text segment sent for translation. ID is stable across the
// request and response so results can be spliced back by identity.
type Item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Options configures translation behavior
type Options struct {
	SourceLang   string `json:"source_lang"`
	TargetLang   string `json:"target_lang"`
	Preset       string `json:"preset"`        // "anime", "movie", "documentary", "custom"
	CustomPrompt string `json:"custom_prompt"` // for "custom" preset
}

// Endpoint translates one batch per call. The returned map is keyed by item
// ID and may be partial.
type Endpoint interface {
	TranslateBatch(ctx context.Context, items []Item, opts Options) (map[string]string, error)
	Name() string
}
