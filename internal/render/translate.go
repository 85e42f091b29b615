package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/video-stream/subtitler/internal/detect"
	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/ffmpeg"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/subtitle"
	"github.com/video-stream/subtitler/internal/subtitle/translate"
)

// Progress bands of a translation run.
const (
	translateShare = 35.0
	renderStart    = 40.0
)

// TranslateRunner translates a confirmed selection and burns it into the
// video.
type TranslateRunner struct {
	Selection  *detect.Confirmed
	Batcher    *translate.Batcher
	Options    translate.Options
	Compositor *Compositor
	Style      Style
	// Region overrides where speech subtitles are drawn.
	Region  *subtitle.Area
	Output  string
	VTTPath string
	Logger  *slog.Logger
}

func (r *TranslateRunner) Kind() engine.Kind { return engine.KindTranslate }

func (r *TranslateRunner) Run(ctx context.Context, job engine.Job, report engine.Reporter) (engine.Outcome[string], error) {
	logger := logging.Task(logging.Component(r.Logger, "translate-engine"), job.TaskID)

	report(1, "probing video")
	info, err := r.Compositor.Probe(ctx, job.SourcePath)
	if err != nil {
		return engine.Outcome[string]{}, fmt.Errorf("probe: %w", err)
	}

	items := selectionItems(r.Selection)
	if len(items) == 0 {
		return engine.Outcome[string]{}, errors.New("no subtitles to translate")
	}

	report(5, fmt.Sprintf("translating %d subtitles", len(items)))
	translated, err := r.Batcher.Translate(ctx, items, r.Options, func(done, total int) {
		report(5+translateShare*float64(done)/float64(total), fmt.Sprintf("translated batch %d/%d", done, total))
	})
	if err != nil {
		return engine.Outcome[string]{}, err
	}

	cues := selectionCues(r.Selection, translated.Value, info.FPS)
	if r.VTTPath != "" {
		if err := os.WriteFile(r.VTTPath, []byte(subtitle.CuesToVTT(cues)), 0o644); err != nil {
			logger.Warn("write translated subtitles", "path", r.VTTPath, "error", err)
		}
	}

	plan, reasons := r.plan(info, translated.Value)
	logger.Info("render plan ready", "frames", plan.Len(), "subtitles", len(items))

	// Speech subtitles sit over picture content, OCR ones must hide the
	// burned-in original.
	style := r.Style
	style.Translucent = r.Selection.Method == detect.MethodSpeech

	report(renderStart, "rendering subtitles")
	rendered, err := r.Compositor.Render(ctx, info, job.SourcePath, r.Output, plan, style, func(frac float64) {
		report(renderStart+(100-renderStart-1)*frac, "rendering subtitles")
	})
	if err != nil {
		return engine.Outcome[string]{}, err
	}

	return rendered.With(translated.Reasons...).With(reasons...), nil
}

func (r *TranslateRunner) plan(info *ffmpeg.MediaInfo, texts []string) (Plan, []string) {
	sel := r.Selection
	if sel.Method != detect.MethodSpeech {
		placed := make([]Placed, len(sel.Subtitles))
		for i, s := range sel.Subtitles {
			placed[i] = Placed{Text: texts[i], Frames: s.Frames, Box: s.Box.Clip(info.Width, info.Height)}
		}
		return FramePlan(placed), nil
	}

	var reasons []string
	region := r.Region
	if region == nil {
		region = sel.SubtitleRegion
	}
	var box subtitle.Box
	if region != nil {
		box = region.Box().Clip(info.Width, info.Height)
	}
	if box.Empty() {
		box = detect.DefaultRegion(info.Width, info.Height)
		reasons = append(reasons, "no subtitle region, drew in the default bottom band")
	}

	segs := make([]Segment, len(sel.Segments))
	for i, s := range sel.Segments {
		segs[i] = Segment{Start: s.Start, End: s.End, Text: texts[i]}
	}
	return TimedPlan(segs, info.FPS, box), reasons
}

// selectionItems lists the texts to translate, one item per subtitle, keyed
// by position.
func selectionItems(sel *detect.Confirmed) []translate.Item {
	var items []translate.Item
	if sel.Method == detect.MethodSpeech {
		for i, s := range sel.Segments {
			items = append(items, translate.Item{ID: strconv.Itoa(i), Text: s.Text})
		}
		return items
	}
	for i, s := range sel.Subtitles {
		items = append(items, translate.Item{ID: strconv.Itoa(i), Text: s.Text})
	}
	return items
}

// selectionCues times translated texts. OCR subtitles span their first to
// last detected frame.
func selectionCues(sel *detect.Confirmed, texts []string, fps float64) []subtitle.Cue {
	var cues []subtitle.Cue
	if sel.Method == detect.MethodSpeech {
		for i, s := range sel.Segments {
			cues = append(cues, subtitle.Cue{Index: i + 1, Start: s.Start, End: s.End, Text: texts[i]})
		}
		return cues
	}
	for i, s := range sel.Subtitles {
		if len(s.Frames) == 0 || fps <= 0 {
			continue
		}
		first, last := s.Frames[0], s.Frames[0]
		for _, f := range s.Frames {
			first, last = min(first, f), max(last, f)
		}
		cues = append(cues, subtitle.Cue{
			Index: i + 1,
			Start: float64(first) / fps,
			End:   float64(last+1) / fps,
			Text:  texts[i],
		})
	}
	return cues
}
