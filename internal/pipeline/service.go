// Package pipeline is the request side of the subtitle workflow: it checks
// preconditions, picks the engine for each stage and hands it to the
// background executor.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/video-stream/subtitler/internal/config"
	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/detect"
	"github.com/video-stream/subtitler/internal/inpaint"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/render"
	"github.com/video-stream/subtitler/internal/storage"
	"github.com/video-stream/subtitler/internal/subtitle/ocr"
	"github.com/video-stream/subtitler/internal/subtitle/translate"
	"github.com/video-stream/subtitler/internal/subtitle/whisper"
	"github.com/video-stream/subtitler/internal/task"
)

// Media is what the pipeline needs from ffmpeg directly.
type Media interface {
	detect.Prober
	PreviewFrame(ctx context.Context, path string, at float64, w io.Writer) error
}

// Engines are the collaborators stages are built from. OCR and Inpaint may be
// left unset, which disables the stages that need them.
type Engines struct {
	OCR            ocr.Scanner
	Speech         *whisper.Service
	Media          Media
	Compositor     *render.Compositor
	Presets        *translate.Presets
	Translate      config.Translate
	InpaintBin     string
	InpaintExec    inpaint.Executor
	DefaultLang    string
	SpeechLanguage string
}

// Service coordinates the task registry, the executor and the engines.
type Service struct {
	registry *task.Registry
	executor *task.Executor
	engines  Engines
	logger   *slog.Logger
}

func New(registry *task.Registry, executor *task.Executor, engines Engines, logger *slog.Logger) *Service {
	if engines.Presets == nil {
		engines.Presets = translate.DefaultPresets()
	}
	if engines.DefaultLang == "" {
		engines.DefaultLang = "zh"
	}
	if engines.SpeechLanguage == "" {
		engines.SpeechLanguage = "auto"
	}
	return &Service{
		registry: registry,
		executor: executor,
		engines:  engines,
		logger:   logging.Component(logger, "pipeline"),
	}
}

// Presets lists the translation styles clients may request.
func (s *Service) Presets() []translate.Preset {
	return s.engines.Presets.List()
}

// Upload stores a new source file and creates its task.
func (s *Service) Upload(ctx context.Context, src io.Reader, name string) (*models.Task, error) {
	if err := storage.ValidateUpload(name); err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrInvalidInput, err)
	}
	return s.registry.Create(ctx, uuid.NewString(), src, name)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.registry.Get(ctx, id)
}

// List returns tasks, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string) ([]models.Task, error) {
	if status == "" {
		return s.registry.List(ctx)
	}
	st := models.Status(strings.ToLower(status))
	if !st.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", task.ErrInvalidInput, status)
	}
	return s.registry.List(ctx, st)
}

// Status is the live snapshot of a task.
func (s *Service) Status(ctx context.Context, id string) (task.Snapshot, error) {
	return s.registry.Snapshot(ctx, id)
}

// Files lists the artifacts and outputs of a task.
func (s *Service) Files(ctx context.Context, id string) ([]storage.FileEntry, error) {
	t, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return storage.ListTaskFiles(t.FilePath, t.ID)
}

// Cancel stops the running stage of a task.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if _, err := s.registry.Get(ctx, id); err != nil {
		return err
	}
	if err := s.executor.Cancel(id); err != nil {
		return err
	}
	logging.Task(s.logger, id).Info("cancellation requested")
	return nil
}

// Sweep removes tasks older than age.
func (s *Service) Sweep(ctx context.Context, age time.Duration) (int, error) {
	return s.registry.Sweep(ctx, age)
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval, age time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, age); err != nil {
				s.logger.Warn("retention sweep failed", "error", err)
			}
		}
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", task.ErrInvalidInput, fmt.Sprintf(format, args...))
}
