package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/detect"
	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/inpaint"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/render"
	"github.com/video-stream/subtitler/internal/storage"
	"github.com/video-stream/subtitler/internal/subtitle"
	"github.com/video-stream/subtitler/internal/subtitle/translate"
	"github.com/video-stream/subtitler/internal/task"
)

// TranslateRequest starts translation of the confirmed subtitles. Empty
// endpoint fields fall back to the server configuration.
type TranslateRequest struct {
	TaskID string `json:"task_id"`
	translate.Settings
	SourceLang   string         `json:"source_lang,omitempty"`
	TargetLang   string         `json:"target_lang"`
	Preset       string         `json:"preset,omitempty"`
	CustomPrompt string         `json:"custom_prompt,omitempty"`
	BgColor      string         `json:"bg_color,omitempty"`
	SubArea      *subtitle.Area `json:"sub_area,omitempty"`
}

// Translate launches the translation engine for a task.
func (s *Service) Translate(ctx context.Context, req TranslateRequest) error {
	if req.TaskID == "" {
		return invalid("task_id is required")
	}
	if s.engines.Compositor == nil {
		return invalid("video rendering is not configured")
	}
	if req.TargetLang == "" {
		req.TargetLang = s.engines.DefaultLang
	}
	preset := strings.ToLower(strings.TrimSpace(req.Preset))
	if preset != "" && !s.engines.Presets.Has(preset) {
		return invalid("unknown preset %q", req.Preset)
	}
	if preset == "custom" && strings.TrimSpace(req.CustomPrompt) == "" {
		return invalid("custom_prompt is required for the custom preset")
	}
	bg := strings.ToLower(strings.TrimSpace(req.BgColor))
	switch bg {
	case "":
		bg = "black"
	case "black", "white":
	default:
		return invalid("bg_color must be black or white, got %q", req.BgColor)
	}
	if req.SubArea != nil {
		if err := req.SubArea.Validate(); err != nil {
			return invalid("%v", err)
		}
	}

	t, sel, err := s.selection(ctx, req.TaskID)
	if err != nil {
		return err
	}
	endpoint, err := translate.NewEndpoint(req.Settings, s.engines.Translate, s.engines.Presets, s.logger)
	if err != nil {
		return invalid("%v", err)
	}

	artifacts := detect.ArtifactsFor(t.FilePath, t.ID)
	runner := &render.TranslateRunner{
		Selection: sel,
		Batcher:   translate.NewBatcher(endpoint, translate.DefaultBudget, s.logger),
		Options: translate.Options{
			SourceLang:   req.SourceLang,
			TargetLang:   req.TargetLang,
			Preset:       preset,
			CustomPrompt: req.CustomPrompt,
		},
		Compositor: s.engines.Compositor,
		Style:      render.Style{Background: bg},
		Region:     req.SubArea,
		Output:     storage.TranslatedPath(t.FilePath, t.ID, translate.ShortCode(req.TargetLang)),
		VTTPath:    artifacts.TranslatedVTTPath(),
		Logger:     s.logger,
	}
	if _, err := s.executor.Launch(ctx, t.ID, task.TransformFrom, "translating subtitles", runner, engine.Job{SourcePath: t.FilePath}); err != nil {
		return err
	}
	logging.Task(s.logger, t.ID).Info("translation started",
		"engine", endpoint.Name(), "target", req.TargetLang, "preset", preset)
	return nil
}

// ProcessRequest starts subtitle removal.
type ProcessRequest struct {
	TaskID        string         `json:"task_id"`
	Mode          string         `json:"mode"`
	SubArea       *subtitle.Area `json:"sub_area,omitempty"`
	SkipDetection *bool          `json:"skip_detection,omitempty"`
}

// Process launches the inpainting engine for a task.
func (s *Service) Process(ctx context.Context, req ProcessRequest) error {
	if req.TaskID == "" {
		return invalid("task_id is required")
	}
	mode, err := inpaint.ParseMode(req.Mode)
	if err != nil {
		return invalid("%v", err)
	}
	if s.engines.InpaintBin == "" {
		return invalid("subtitle removal is not configured")
	}
	if req.SubArea != nil {
		if err := req.SubArea.Validate(); err != nil {
			return invalid("%v", err)
		}
	}

	t, sel, err := s.selection(ctx, req.TaskID)
	if err != nil {
		return err
	}
	area := req.SubArea
	if area == nil {
		area = removalArea(sel)
	}
	skip := true
	if req.SkipDetection != nil {
		skip = *req.SkipDetection
	}

	runner := &inpaint.Runner{
		Binary:        s.engines.InpaintBin,
		Mode:          mode,
		Area:          area,
		SkipDetection: skip,
		Output:        storage.RemovedPath(t.FilePath, t.ID),
		Logger:        s.logger,
	}
	if s.engines.InpaintExec != nil {
		runner.WithExecutor(s.engines.InpaintExec)
	}
	if _, err := s.executor.Launch(ctx, t.ID, task.TransformFrom, "removing subtitles", runner, engine.Job{SourcePath: t.FilePath}); err != nil {
		return err
	}
	logging.Task(s.logger, t.ID).Info("removal started", "mode", mode, "area", area)
	return nil
}

// selection loads a task together with the subtitles its transform will use.
func (s *Service) selection(ctx context.Context, id string) (*models.Task, *detect.Confirmed, error) {
	t, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sel, err := detect.ArtifactsFor(t.FilePath, t.ID).Selection()
	if errors.Is(err, detect.ErrNoSelection) {
		return nil, nil, invalid("task %s has no confirmed subtitles", t.ID)
	}
	if err != nil {
		return nil, nil, err
	}
	return t, sel, nil
}

// removalArea is the region handed to the inpainter: the confirmed region,
// else the union of the confirmed OCR boxes.
func removalArea(sel *detect.Confirmed) *subtitle.Area {
	if sel.SubtitleRegion != nil {
		return sel.SubtitleRegion
	}
	var union subtitle.Box
	for _, sub := range sel.Subtitles {
		union = union.Union(sub.Box)
	}
	if union.Empty() {
		return nil
	}
	area := subtitle.AreaOf(union)
	return &area
}
