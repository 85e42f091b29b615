package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/detect"
	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/subtitle"
	"github.com/video-stream/subtitler/internal/task"
)

// DetectRequest starts subtitle detection.
type DetectRequest struct {
	TaskID   string         `json:"task_id"`
	SubArea  *subtitle.Area `json:"sub_area,omitempty"`
	Method   string         `json:"detection_method"`
	Language string         `json:"language,omitempty"`
}

// Detect launches the detection engine chosen by the request method.
func (s *Service) Detect(ctx context.Context, req DetectRequest) error {
	if req.TaskID == "" {
		return invalid("task_id is required")
	}
	method, err := detect.ParseMethod(req.Method)
	if err != nil {
		return invalid("%v", err)
	}
	if req.SubArea != nil {
		if err := req.SubArea.Validate(); err != nil {
			return invalid("%v", err)
		}
	}
	t, err := s.registry.Get(ctx, req.TaskID)
	if err != nil {
		return err
	}

	var runner engine.Runner
	switch method {
	case detect.MethodSpeech:
		if s.engines.Speech == nil || s.engines.Media == nil {
			return invalid("speech recognition is not configured")
		}
		transcriber, err := s.engines.Speech.Default()
		if err != nil {
			return invalid("%v", err)
		}
		lang := req.Language
		if lang == "" {
			lang = s.engines.SpeechLanguage
		}
		runner = &detect.SpeechRunner{
			Transcriber: transcriber,
			Prober:      s.engines.Media,
			Scanner:     s.engines.OCR,
			Area:        req.SubArea,
			Language:    lang,
			Logger:      s.logger,
		}
	default:
		if s.engines.OCR == nil {
			return invalid("ocr engine is not configured")
		}
		ocrRunner := &detect.OCRRunner{Scanner: s.engines.OCR, Area: req.SubArea, Logger: s.logger}
		// A nil Media must not become a non-nil Prober
		if s.engines.Media != nil {
			ocrRunner.Prober = s.engines.Media
		}
		runner = ocrRunner
	}

	// A new detection replaces whatever an earlier one left behind
	artifacts := detect.ArtifactsFor(t.FilePath, t.ID)
	if t.Status == models.StatusUploaded {
		os.Remove(artifacts.DetectedPath())
		os.Remove(artifacts.ConfirmedPath())
	}

	_, err = s.executor.Launch(ctx, t.ID, task.DetectFrom, "detecting subtitles", runner, engine.Job{SourcePath: t.FilePath})
	if err != nil {
		return err
	}
	logging.Task(s.logger, t.ID).Info("detection started", "method", method)
	return nil
}

// DetectionView is the detection state clients read: live progress while the
// engine runs, the normalized artifact once it exists.
type DetectionView struct {
	TaskID string `json:"task_id"`
	detect.Normalized
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// DetectionResult reports detection progress or its result.
func (s *Service) DetectionResult(ctx context.Context, id string) (*DetectionView, error) {
	t, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &DetectionView{TaskID: t.ID}
	view.Subtitles = []detect.Entry{}

	d, err := detect.ArtifactsFor(t.FilePath, t.ID).ReadDetected()
	switch {
	case err == nil:
		view.Normalized = detect.Normalize(d)
		return view, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	if t.Status == models.StatusError {
		view.Status = "error"
		view.Message = t.Message
		return view, nil
	}
	snap, err := s.registry.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	view.Status = "detecting"
	if snap.Status != models.StatusProcessing {
		view.Status = "not_started"
	}
	view.Progress = snap.Progress
	view.Message = snap.Message
	return view, nil
}

// ConfirmRequest carries the subtitles a user kept, possibly edited.
type ConfirmRequest struct {
	TaskID    string         `json:"task_id"`
	Subtitles []detect.Entry `json:"confirmed_subtitles"`
	SubArea   *subtitle.Area `json:"sub_area,omitempty"`
}

// Confirm writes the confirmation artifact, replacing an earlier one.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (int, error) {
	if req.TaskID == "" {
		return 0, invalid("task_id is required")
	}
	t, err := s.registry.Get(ctx, req.TaskID)
	if err != nil {
		return 0, err
	}
	if t.Status == models.StatusProcessing {
		return 0, invalid("task %s is processing", t.ID)
	}
	artifacts := detect.ArtifactsFor(t.FilePath, t.ID)
	d, err := artifacts.ReadDetected()
	if errors.Is(err, os.ErrNotExist) {
		return 0, invalid("task %s has no detection result", t.ID)
	}
	if err != nil {
		return 0, err
	}

	region := d.SubtitleRegion
	if req.SubArea != nil {
		if err := req.SubArea.Validate(); err != nil {
			return 0, invalid("%v", err)
		}
		region = req.SubArea
	}
	c, err := detect.ConfirmEntries(d.Method, req.Subtitles, region)
	if err != nil {
		return 0, invalid("%v", err)
	}
	if err := artifacts.WriteConfirmed(c); err != nil {
		return 0, err
	}
	n := len(c.Subtitles) + len(c.Segments)
	logging.Task(s.logger, t.ID).Info("detection confirmed", "subtitles", n)
	return n, nil
}
