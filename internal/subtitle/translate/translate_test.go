package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/video-stream/subtitler/internal/config"
	"github.com/video-stream/subtitler/internal/logging"
)

type fakeEndpoint struct {
	mu    sync.Mutex
	calls [][]Item
	fn    func(items []Item) (map[string]string, error)
}

func (f *fakeEndpoint) Name() string { return "fake" }

func (f *fakeEndpoint) TranslateBatch(_ context.Context, items []Item, _ Options) (map[string]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, items)
	f.mu.Unlock()
	return f.fn(items)
}

func upper(items []Item) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, it := range items {
		out[it.ID] = strings.ToUpper(it.Text)
	}
	return out, nil
}

func TestBatchRespectsBudget(t *testing.T) {
	items := []Item{
		{ID: "0", Text: strings.Repeat("a", 900)},
		{ID: "1", Text: strings.Repeat("b", 900)},
		{ID: "2", Text: strings.Repeat("c", 900)},
		{ID: "3", Text: strings.Repeat("d", 2500)},
		{ID: "4", Text: "e"},
	}
	batches := Batch(items, DefaultBudget)
	if len(batches) != 4 {
		t.Fatalf("batches = %d, want 4", len(batches))
	}
	want := [][]string{{"0", "1"}, {"2"}, {"3"}, {"4"}}
	for i, b := range batches {
		if len(b) != len(want[i]) {
			t.Fatalf("batch %d = %v, want ids %v", i, b, want[i])
		}
		for j, it := range b {
			if it.ID != want[i][j] {
				t.Fatalf("batch %d item %d = %s, want %s", i, j, it.ID, want[i][j])
			}
		}
	}
}

func TestBatchCountsRunes(t *testing.T) {
	// 1500 CJK runes are 4500 bytes but fit one batch with 400 more runes
	items := []Item{
		{ID: "a", Text: strings.Repeat("字", 1500)},
		{ID: "b", Text: strings.Repeat("字", 400)},
	}
	if got := len(Batch(items, DefaultBudget)); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}
}

func TestBatcherSplicesByID(t *testing.T) {
	ep := &fakeEndpoint{fn: func(items []Item) (map[string]string, error) {
		out, _ := upper(items)
		delete(out, "1") // dropped by the model
		return out, nil
	}}
	b := NewBatcher(ep, DefaultBudget, logging.NewNop())

	items := []Item{{ID: "0", Text: "hello"}, {ID: "1", Text: "keep me"}, {ID: "2", Text: "world"}}
	var last int
	out, err := b.Translate(context.Background(), items, Options{TargetLang: "en"}, func(done, total int) { last = done })
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out.IsDegraded() {
		t.Fatalf("unexpected degraded outcome: %v", out.Reasons)
	}
	want := []string{"HELLO", "keep me", "WORLD"}
	for i := range want {
		if out.Value[i] != want[i] {
			t.Fatalf("out[%d] = %q, want %q", i, out.Value[i], want[i])
		}
	}
	if last != 1 {
		t.Fatalf("progress done = %d, want 1", last)
	}
}

func TestBatcherFailedBatchFallsBackToOriginal(t *testing.T) {
	ep := &fakeEndpoint{fn: func(items []Item) (map[string]string, error) {
		if items[0].ID == "1" {
			return nil, errors.New("parse translations: not json")
		}
		return upper(items)
	}}
	b := NewBatcher(ep, 10, logging.NewNop())

	items := []Item{{ID: "0", Text: "aaaaaaaa"}, {ID: "1", Text: "bbbbbbbb"}, {ID: "2", Text: "cccccccc"}}
	out, err := b.Translate(context.Background(), items, Options{}, nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(ep.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(ep.calls))
	}
	if !out.IsDegraded() {
		t.Fatal("expected degraded outcome")
	}
	if out.Value[1] != "bbbbbbbb" {
		t.Fatalf("failed batch text = %q, want original", out.Value[1])
	}
	if out.Value[0] != "AAAAAAAA" || out.Value[2] != "CCCCCCCC" {
		t.Fatalf("other batches not translated: %v", out.Value)
	}
}

func TestBatcherMalformedReplyKeepsEveryOriginal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"sorry, I cannot help"}}]}`)
	}))
	defer srv.Close()

	ep := NewOpenAIEndpoint(srv.URL, "key", "m", DefaultPresets(), logging.NewNop())
	b := NewBatcher(ep, DefaultBudget, logging.NewNop())
	items := []Item{{ID: "0", Text: "uno"}, {ID: "1", Text: "dos"}}
	out, err := b.Translate(context.Background(), items, Options{TargetLang: "en"}, nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	for i, it := range items {
		if out.Value[i] != it.Text {
			t.Fatalf("out[%d] = %q, want original %q", i, out.Value[i], it.Text)
		}
	}
	if !out.IsDegraded() {
		t.Fatal("expected degraded outcome")
	}
}

func TestBatcherCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ep := &fakeEndpoint{fn: func(items []Item) (map[string]string, error) {
		cancel()
		return nil, context.Canceled
	}}
	b := NewBatcher(ep, DefaultBudget, logging.NewNop())
	if _, err := b.Translate(ctx, []Item{{ID: "0", Text: "x"}}, Options{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestParseTranslationsShapes(t *testing.T) {
	items := []Item{{ID: "0", Text: "a"}, {ID: "1", Text: "b"}}
	cases := map[string]string{
		"wrapped":    `{"translations":[{"id":"0","translated_text":"A"},{"id":"1","translated_text":"B"}]}`,
		"numeric id": `{"translations":[{"id":0,"translated_text":"A"},{"id":1,"translated_text":"B"}]}`,
		"bare":       `[{"id":"0","translated_text":"A"},{"id":"1","translated_text":"B"}]`,
		"strings":    `["A","B"]`,
		"keyed":      `{"0":"A","1":"B"}`,
		"fenced":     "```json\n{\"translations\":[{\"id\":\"0\",\"translated_text\":\"A\"},{\"id\":\"1\",\"translated_text\":\"B\"}]}\n```",
		"prose":      `Here you go: [{"id":"0","translated_text":"A"},{"id":"1","translated_text":"B"}] enjoy`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := parseTranslations(content, items)
			if err != nil {
				t.Fatalf("parseTranslations: %v", err)
			}
			if got["0"] != "A" || got["1"] != "B" {
				t.Fatalf("got %v", got)
			}
		})
	}

	for _, bad := range []string{"", "not json", `{"translations":[]}`, `[]`} {
		if _, err := parseTranslations(bad, items); err == nil {
			t.Errorf("parseTranslations(%q) should fail", bad)
		}
	}
}

func TestParseTranslationsRejectsShortPositionalList(t *testing.T) {
	items := []Item{{ID: "0", Text: "a"}, {ID: "1", Text: "b"}, {ID: "2", Text: "c"}}
	for _, content := range []string{
		`["b-translated","c-translated"]`,
		`{"result":["b-translated","c-translated"]}`,
		`["a","b","c","d"]`,
	} {
		if got, err := parseTranslations(content, items); err == nil {
			t.Errorf("parseTranslations(%s) = %v, want error", content, got)
		}
	}

	got, err := parseTranslations(`["A","B","C"]`, items)
	if err != nil {
		t.Fatalf("parseTranslations: %v", err)
	}
	if got["0"] != "A" || got["2"] != "C" {
		t.Fatalf("got %v", got)
	}
}

func TestOpenAIEndpointRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "gpt-test" || len(req.Messages) != 2 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if !strings.Contains(req.Messages[0].Content, "Korean") {
			http.Error(w, "missing target language", http.StatusBadRequest)
			return
		}
		content := `{"translations":[{"id":"s1","translated_text":"안녕"}]}`
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
	defer srv.Close()

	ep := NewOpenAIEndpoint(srv.URL+"/", "sk-test", "gpt-test", DefaultPresets(), logging.NewNop())
	got, err := ep.TranslateBatch(context.Background(), []Item{{ID: "s1", Text: "hello"}}, Options{TargetLang: "ko"})
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if got["s1"] != "안녕" {
		t.Fatalf("got %v", got)
	}
}

func TestDeepLEndpointMatchesByPosition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("target_lang") != "EN-US" || len(r.Form["text"]) != 2 {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		io.WriteString(w, `{"translations":[{"text":"one"},{"text":"two"}]}`)
	}))
	defer srv.Close()

	ep := NewDeepLEndpoint("key:fx")
	ep.url = srv.URL
	got, err := ep.TranslateBatch(context.Background(), []Item{{ID: "x", Text: "uno"}, {ID: "y", Text: "dos"}}, Options{TargetLang: "en"})
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if got["x"] != "one" || got["y"] != "two" {
		t.Fatalf("got %v", got)
	}
}

func TestLoadPresetsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	body := `
presets:
  - name: Kids
    description: simple words
    prompt: Use vocabulary suitable for young children.
  - name: anime
    prompt: Keep it short.
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	if !p.Has("kids") || !p.Has("movie") {
		t.Fatalf("presets = %v", p.List())
	}
	prompt := p.SystemPrompt(Options{SourceLang: "ja", TargetLang: "ko", Preset: "anime"})
	if !strings.Contains(prompt, "Japanese") || !strings.Contains(prompt, "Korean") || !strings.Contains(prompt, "Keep it short.") {
		t.Fatalf("prompt = %q", prompt)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("presets:\n  - name: x\n    promt: typo\n"), 0o644)
	if _, err := LoadPresets(bad); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLanguageHelpers(t *testing.T) {
	if got := LanguageName("中文"); got != "中文" {
		t.Fatalf("LanguageName passthrough = %q", got)
	}
	if got := ShortCode("zh-Hans"); got != "zh" {
		t.Fatalf("ShortCode = %q, want zh", got)
	}
	if got := ShortCode("EN"); got != "en" {
		t.Fatalf("ShortCode = %q, want en", got)
	}
}

func TestNewEndpointSelection(t *testing.T) {
	defaults := config.Default().Translate
	defaults.APIKey = "server-key"

	ep, err := NewEndpoint(Settings{}, defaults, DefaultPresets(), logging.NewNop())
	if err != nil || ep.Name() != "openai" {
		t.Fatalf("default endpoint = %v, %v", ep, err)
	}
	if _, err := NewEndpoint(Settings{Engine: "deepl"}, defaults, DefaultPresets(), logging.NewNop()); err == nil {
		t.Fatal("deepl without key should fail")
	}
	ep, err = NewEndpoint(Settings{Engine: "Gemini", APIKey: "g"}, defaults, DefaultPresets(), logging.NewNop())
	if err != nil || ep.Name() != "gemini" {
		t.Fatalf("gemini endpoint = %v, %v", ep, err)
	}
	if _, err := NewEndpoint(Settings{Engine: "babelfish"}, defaults, DefaultPresets(), logging.NewNop()); err == nil {
		t.Fatal("unknown engine should fail")
	}
}
