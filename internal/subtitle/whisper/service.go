package whisper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/subtitle"
)

// TranscribeRequest names the media to transcribe. Language is an ISO 639-1
// code or "auto".
type TranscribeRequest struct {
	FilePath string
	Language string
}

// TranscribeResult holds timed cues and the language they were heard in.
type TranscribeResult struct {
	Cues     []subtitle.Cue
	Language string
}

// Transcriber turns the audio track of a media file into timed cues.
// Progress is reported as a fraction in [0, 1].
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest, progress func(float64)) (*TranscribeResult, error)
	Name() string
}

// ErrNoEngine is returned when no speech recognition backend is configured.
var ErrNoEngine = errors.New("no speech recognition engine configured")

// Service picks the transcription backend. A local whisper.cpp server is
// preferred over the hosted API.
type Service struct {
	engines []Transcriber
	logger  *slog.Logger
}

// NewService registers the engines for which configuration is present.
func NewService(whisperURL, openAIKey, ffmpegPath string, logger *slog.Logger) *Service {
	s := &Service{logger: logging.Component(logger, "whisper")}

	if whisperURL != "" {
		s.Register(NewWhisperCppClient(whisperURL, ffmpegPath, logger))
	}
	if openAIKey != "" {
		s.Register(NewOpenAIWhisperClient(openAIKey, ffmpegPath, logger))
	}
	return s
}

// Register appends an engine in priority order.
func (s *Service) Register(t Transcriber) {
	s.engines = append(s.engines, t)
	s.logger.Info("registered transcription engine", "engine", t.Name())
}

// Default returns the highest priority engine.
func (s *Service) Default() (Transcriber, error) {
	if len(s.engines) == 0 {
		return nil, ErrNoEngine
	}
	return s.engines[0], nil
}

// Names lists registered engines in priority order.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.engines))
	for _, e := range s.engines {
		names = append(names, e.Name())
	}
	return names
}
