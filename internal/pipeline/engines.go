package pipeline

import (
	"context"
	"time"

	"github.com/video-stream/subtitler/internal/inpaint"
	"github.com/video-stream/subtitler/internal/task"
)

const healthTimeout = 3 * time.Second

// EngineInfo describes one configured engine for client dropdowns.
type EngineInfo struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Type  string `json:"type"` // "detection", "speech", "translation" or "removal"
}

// Available lists the engines this server can run.
func (s *Service) Available() []EngineInfo {
	var out []EngineInfo
	if s.engines.OCR != nil {
		out = append(out, EngineInfo{Value: "ocr", Label: "OCR", Type: "detection"})
	}
	if s.engines.Speech != nil && s.engines.Media != nil {
		for _, name := range s.engines.Speech.Names() {
			out = append(out, EngineInfo{Value: "speech", Label: name, Type: "speech"})
		}
	}
	tr := s.engines.Translate
	if tr.APIKey != "" {
		out = append(out, EngineInfo{Value: "openai", Label: "OpenAI compatible (" + tr.Model + ")", Type: "translation"})
	}
	if tr.GeminiKey != "" {
		out = append(out, EngineInfo{Value: "gemini", Label: "Gemini (" + tr.GeminiModel + ")", Type: "translation"})
	}
	if tr.DeepLKey != "" {
		out = append(out, EngineInfo{Value: "deepl", Label: "DeepL", Type: "translation"})
	}
	if s.engines.InpaintBin != "" {
		for _, m := range []inpaint.Mode{inpaint.ModeSTTN, inpaint.ModeLaMa, inpaint.ModePropainter} {
			out = append(out, EngineInfo{Value: string(m), Label: string(m), Type: "removal"})
		}
	}
	if out == nil {
		out = []EngineInfo{}
	}
	return out
}

// Health reports whether the store answers and how the optional engines are
// doing.
type Health struct {
	Status string `json:"status"` // "ok" or "degraded"
	task.Stats
	OCR string `json:"ocr"` // "ok", "unreachable" or "disabled"
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health fails only when the store is unusable. An unreachable OCR sidecar
// degrades the report.
func (s *Service) Health(ctx context.Context) (Health, error) {
	stats, err := s.registry.Stats(ctx)
	if err != nil {
		return Health{}, err
	}
	h := Health{Status: "ok", Stats: stats, OCR: "disabled"}
	if p, ok := s.engines.OCR.(pinger); ok {
		ctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("ocr sidecar unreachable", "error", err)
			h.Status, h.OCR = "degraded", "unreachable"
		} else {
			h.OCR = "ok"
		}
	} else if s.engines.OCR != nil {
		h.OCR = "ok"
	}
	return h, nil
}
