package whisper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/subtitle"
)

// WhisperCppClient talks to the whisper.cpp HTTP server (whisper-server)
type WhisperCppClient struct {
	baseURL    string
	ffmpegPath string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWhisperCppClient creates a client for the whisper.cpp server
func NewWhisperCppClient(baseURL, ffmpegPath string, logger *slog.Logger) *WhisperCppClient {
	return &WhisperCppClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		ffmpegPath: ffmpegPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // transcription can be very long
		},
		logger: logging.Component(logger, "whisper"),
	}
}

func (c *WhisperCppClient) Name() string {
	return "whisper.cpp"
}

// Transcribe sends the audio of a video to whisper-server and parses the VTT
// reply.
func (c *WhisperCppClient) Transcribe(ctx context.Context, req TranscribeRequest, updateProgress func(float64)) (*TranscribeResult, error) {
	updateProgress(0.05)
	audioPath, err := extractWAV(ctx, c.ffmpegPath, req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	defer os.Remove(audioPath)
	updateProgress(0.1)

	vtt, err := c.sendToServer(ctx, audioPath, req.Language)
	if err != nil && isRetryableError(0, err) && ctx.Err() == nil {
		c.logger.Warn("whisper server request failed, retrying", "error", err)
		select {
		case <-time.After(3 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		vtt, err = c.sendToServer(ctx, audioPath, req.Language)
	}
	if err != nil {
		return nil, err
	}
	updateProgress(0.95)

	return &TranscribeResult{
		Cues:     subtitle.ParseVTT(vtt),
		Language: req.Language,
	}, nil
}

func (c *WhisperCppClient) sendToServer(ctx context.Context, audioPath, language string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	audioFile, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer audioFile.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("response_format", "vtt")
	writer.WriteField("temperature", "0.0")
	if language != "" && language != "auto" {
		writer.WriteField("language", language)
	}
	writer.Close()

	url := c.baseURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Info("sending audio to whisper server", "url", url)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whisper server request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper server error (status %d): %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}
