package whisper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// extractAudio transcodes the audio track of videoPath to a temp file. The
// caller removes it.
func extractAudio(ctx context.Context, ffmpegPath, videoPath, ext string, codecArgs ...string) (string, error) {
	tmpFile, err := os.CreateTemp("", "whisper-audio-*"+ext)
	if err != nil {
		return "", err
	}
	tmpFile.Close()

	args := []string{"-hide_banner", "-loglevel", "error", "-i", videoPath, "-vn"}
	args = append(args, codecArgs...)
	args = append(args, "-y", tmpFile.Name())

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("ffmpeg: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return tmpFile.Name(), nil
}

// WAV 16kHz mono, the input format whisper.cpp expects.
func extractWAV(ctx context.Context, ffmpegPath, videoPath string) (string, error) {
	return extractAudio(ctx, ffmpegPath, videoPath, ".wav", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1")
}

// MP3 keeps uploads to hosted APIs small.
func extractMP3(ctx context.Context, ffmpegPath, videoPath string) (string, error) {
	return extractAudio(ctx, ffmpegPath, videoPath, ".mp3", "-acodec", "libmp3lame", "-q:a", "4")
}

// isRetryableError checks if an HTTP error is transient and worth retrying
func isRetryableError(statusCode int, err error) bool {
	if err != nil {
		errStr := err.Error()
		return strings.Contains(errStr, "connection refused") ||
			strings.Contains(errStr, "connection reset") ||
			strings.Contains(errStr, "EOF") ||
			strings.Contains(errStr, "timeout")
	}
	return statusCode == 502 || statusCode == 503 || statusCode == 504
}
