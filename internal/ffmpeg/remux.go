package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// RemuxWith re-encodes the video of videoPath with enc and muxes it with the
// first audio stream of audioSrc, if any, into out.
func (t *Tool) RemuxWith(ctx context.Context, enc EncoderInfo, videoPath, audioSrc, out string) error {
	cmd := exec.CommandContext(ctx, t.ffmpeg, remuxArgs(enc, videoPath, audioSrc, out)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(out)
		return fmt.Errorf("remux with %s: %w: %s", enc.Encoder, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Remux tries each available encoder in order, hardware first, and returns
// the last error when every encoder fails.
func (t *Tool) Remux(ctx context.Context, videoPath, audioSrc, out string) error {
	var errs []error
	for _, enc := range t.Capabilities(ctx).Encoders {
		err := t.RemuxWith(ctx, enc, videoPath, audioSrc, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errs = append(errs, err)
		if !enc.Software() {
			t.logger.Warn("hardware remux failed, retrying with software encoder", "encoder", enc.Encoder, "error", err)
		}
	}
	return errors.Join(errs...)
}

func remuxArgs(enc EncoderInfo, videoPath, audioSrc, out string) []string {
	global, video := encoderArgs(enc)
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, global...)
	args = append(args,
		"-i", videoPath,
		"-i", audioSrc,
		"-map", "0:v:0",
		"-map", "1:a:0?",
	)
	args = append(args, video...)
	args = append(args,
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		"-shortest",
		"-y", out,
	)
	return args
}
