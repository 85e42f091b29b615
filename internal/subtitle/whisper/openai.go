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
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/subtitle"
)

const (
	openAITranscriptionURL = "https://api.openai.com/v1/audio/transcriptions"
	maxOpenAIFileSize      = 25 * 1024 * 1024 // 25MB limit
	chunkSeconds           = 600
)

// OpenAIWhisperClient uses the OpenAI Whisper API
type OpenAIWhisperClient struct {
	apiKey     string
	url        string
	ffmpegPath string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOpenAIWhisperClient(apiKey, ffmpegPath string, logger *slog.Logger) *OpenAIWhisperClient {
	return &OpenAIWhisperClient{
		apiKey:     apiKey,
		url:        openAITranscriptionURL,
		ffmpegPath: ffmpegPath,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger: logging.Component(logger, "whisper-openai"),
	}
}

func (c *OpenAIWhisperClient) Name() string {
	return "openai"
}

func (c *OpenAIWhisperClient) Transcribe(ctx context.Context, req TranscribeRequest, updateProgress func(float64)) (*TranscribeResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	updateProgress(0.05)
	audioPath, err := extractMP3(ctx, c.ffmpegPath, req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	defer os.Remove(audioPath)
	updateProgress(0.1)

	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, err
	}

	var cues []subtitle.Cue
	if info.Size() > maxOpenAIFileSize {
		cues, err = c.transcribeChunked(ctx, audioPath, req.Language, updateProgress)
	} else {
		cues, err = c.transcribeSingle(ctx, audioPath, req.Language)
	}
	if err != nil {
		return nil, err
	}
	updateProgress(0.95)
	return &TranscribeResult{Cues: cues, Language: req.Language}, nil
}

func (c *OpenAIWhisperClient) transcribeSingle(ctx context.Context, audioPath, language string) ([]subtitle.Cue, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	audioFile, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer audioFile.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, err
	}

	writer.WriteField("model", "whisper-1")
	writer.WriteField("response_format", "vtt")
	if language != "" && language != "auto" {
		writer.WriteField("language", language)
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, string(body))
	}
	return subtitle.ParseVTT(string(body)), nil
}

// transcribeChunked splits a large audio file into fixed-length chunks,
// transcribes each and shifts cue times by the chunk offset.
func (c *OpenAIWhisperClient) transcribeChunked(ctx context.Context, audioPath, language string, updateProgress func(float64)) ([]subtitle.Cue, error) {
	chunkDir, err := os.MkdirTemp("", "whisper-chunks-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(chunkDir)

	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", audioPath,
		"-f", "segment",
		"-segment_time", fmt.Sprint(chunkSeconds),
		"-c:a", "libmp3lame",
		"-q:a", "4",
		"-y",
		filepath.Join(chunkDir, "chunk_%03d.mp3"),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg split: %s: %w", strings.TrimSpace(string(output)), err)
	}

	chunks, err := filepath.Glob(filepath.Join(chunkDir, "chunk_*.mp3"))
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no audio chunks generated")
	}
	sort.Strings(chunks)
	c.logger.Info("transcribing in chunks", "chunks", len(chunks))

	var all []subtitle.Cue
	for i, chunk := range chunks {
		updateProgress(0.15 + 0.75*float64(i)/float64(len(chunks)))
		cues, err := c.transcribeSingle(ctx, chunk, language)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		offset := float64(i * chunkSeconds)
		for _, cue := range cues {
			cue.Start += offset
			cue.End += offset
			cue.Index = len(all) + 1
			all = append(all, cue)
		}
	}
	return all, nil
}
