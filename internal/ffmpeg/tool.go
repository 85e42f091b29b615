// Package ffmpeg wraps the ffmpeg and ffprobe binaries: probing, raw frame
// pipes, remuxing and preview frames.
package ffmpeg

import (
	"log/slog"
	"sync"

	"github.com/video-stream/subtitler/internal/logging"
)

// Tool runs ffmpeg and ffprobe at configured paths.
type Tool struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger

	capsOnce sync.Once
	caps     *HWCapabilities
}

func New(ffmpegPath, ffprobePath string, logger *slog.Logger) *Tool {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Tool{
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		logger:  logging.Component(logger, "ffmpeg"),
	}
}

// FFmpegPath returns the ffmpeg binary used by t.
func (t *Tool) FFmpegPath() string { return t.ffmpeg }
