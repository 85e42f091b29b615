package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/task"
)

// Output returns the path and download name of a completed task's result.
func (s *Service) Output(ctx context.Context, id string) (string, string, error) {
	t, err := s.registry.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	if t.Status != models.StatusCompleted || t.OutputPath == "" {
		return "", "", invalid("task %s is %s, not completed", t.ID, t.Status)
	}
	info, err := os.Stat(t.OutputPath)
	if err != nil || info.IsDir() {
		return "", "", fmt.Errorf("%w: output file of task %s", task.ErrNotFound, t.ID)
	}
	return t.OutputPath, filepath.Base(t.OutputPath), nil
}

// Preview writes a JPEG of the source at the given second.
func (s *Service) Preview(ctx context.Context, id string, at float64, w io.Writer) error {
	if at < 0 {
		return invalid("preview time must not be negative")
	}
	if s.engines.Media == nil {
		return invalid("preview is not configured")
	}
	t, err := s.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.engines.Media.PreviewFrame(ctx, t.FilePath, at, w)
}
