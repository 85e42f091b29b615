package translate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

// Preset adds genre-specific guidance to the system prompt.
type Preset struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Prompt      string `yaml:"prompt" json:"prompt"`
}

// Presets is the set of known presets keyed by name.
type Presets struct {
	byName map[string]Preset
}

var builtinPresets = []Preset{
	{
		Name:        "anime",
		Description: "casual dialogue, honorifics preserved",
		Prompt: "Additional guidelines for anime translation:\n" +
			"- Use casual, natural speech patterns appropriate for anime dialogue\n" +
			"- Preserve Japanese honorifics (-san, -kun, -chan, -senpai, -sensei) when translating to Korean\n" +
			"- Keep character name consistency\n" +
			"- Match the emotional tone (excited, serious, comedic)\n" +
			"- Translate onomatopoeia and sound effects appropriately",
	},
	{
		Name:        "movie",
		Description: "natural conversational register",
		Prompt: "Additional guidelines for movie/drama translation:\n" +
			"- Use natural conversational style appropriate for the genre\n" +
			"- Preserve cultural nuances and idioms with equivalent expressions\n" +
			"- Maintain formal/informal register matching the original dialogue\n" +
			"- Keep subtitles readable within typical display time (max 2 lines)",
	},
	{
		Name:        "documentary",
		Description: "formal and precise terminology",
		Prompt: "Additional guidelines for documentary translation:\n" +
			"- Use formal, precise language\n" +
			"- Preserve all technical terminology with accurate translations\n" +
			"- Maintain proper nouns, scientific names, and place names\n" +
			"- Keep numbers, dates, and measurements accurate",
	},
	{
		Name:        "custom",
		Description: "base prompt plus custom_prompt",
	},
}

// DefaultPresets returns the built-in presets.
func DefaultPresets() *Presets {
	p := &Presets{byName: make(map[string]Preset, len(builtinPresets))}
	for _, pr := range builtinPresets {
		p.byName[pr.Name] = pr
	}
	return p
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresets returns the built-in presets extended by the YAML file at path.
// Entries in the file replace built-ins of the same name. An empty path
// yields the built-ins.
func LoadPresets(path string) (*Presets, error) {
	p := DefaultPresets()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	if err := p.merge(data); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	return p, nil
}

func (p *Presets) merge(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file presetFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	for i, pr := range file.Presets {
		pr.Name = strings.ToLower(strings.TrimSpace(pr.Name))
		if pr.Name == "" {
			return fmt.Errorf("preset %d: name is required", i)
		}
		if strings.TrimSpace(pr.Prompt) == "" && pr.Name != "custom" {
			return fmt.Errorf("preset %q: prompt is required", pr.Name)
		}
		p.byName[pr.Name] = pr
	}
	return nil
}

// Has reports whether name is a known preset. The empty name is accepted.
func (p *Presets) Has(name string) bool {
	if name == "" {
		return true
	}
	_, ok := p.byName[name]
	return ok
}

// List returns presets sorted by name.
func (p *Presets) List() []Preset {
	out := make([]Preset, 0, len(p.byName))
	for _, pr := range p.byName {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SystemPrompt returns the translation system prompt for opts.
func (p *Presets) SystemPrompt(opts Options) string {
	src := opts.SourceLang
	if src == "" {
		src = "auto"
	}
	prompt := fmt.Sprintf(
		"You are a professional subtitle translator. Translate subtitles from %s to %s. "+
			"Maintain the original meaning and keep translations concise and natural for subtitle display.",
		LanguageName(src), LanguageName(opts.TargetLang),
	)

	if p != nil {
		if pr, ok := p.byName[opts.Preset]; ok && pr.Prompt != "" {
			prompt += "\n\n" + pr.Prompt
		}
	}
	if opts.Preset == "custom" && opts.CustomPrompt != "" {
		prompt += "\n\nUser instructions: " + opts.CustomPrompt
	}
	return prompt
}

// LanguageName renders a language code in English for prompts. Values that
// are not BCP 47 tags, such as a language already written out, pass through.
func LanguageName(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, "auto") {
		return "the auto-detected source language"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// ShortCode returns the base language subtag of code ("zh-Hans" gives "zh").
// Unparseable values are lowercased with spaces removed.
func ShortCode(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
	}
	base, _ := tag.Base()
	return base.String()
}
