package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// PreviewFrame writes the frame at the given second as a JPEG to w. It uses
// VAAPI decode when available and falls back to the CPU.
func (t *Tool) PreviewFrame(ctx context.Context, inputPath string, at float64, w io.Writer) error {
	if at < 0 {
		at = 0
	}
	seek := strconv.FormatFloat(at, 'f', 3, 64)

	caps := t.Capabilities(ctx)
	if caps.CanDecode && caps.Device != "" {
		var buf bytes.Buffer
		err := t.previewFrame(ctx, &buf, []string{
			"-hwaccel", "vaapi",
			"-hwaccel_device", caps.Device,
			"-hwaccel_output_format", "vaapi",
			"-ss", seek,
			"-i", inputPath,
			"-vf", "hwdownload,format=nv12",
		})
		if err == nil {
			_, err = buf.WriteTo(w)
			return err
		}
		t.logger.Warn("VAAPI preview failed, falling back to CPU", "error", err)
	}

	return t.previewFrame(ctx, w, []string{"-ss", seek, "-i", inputPath})
}

func (t *Tool) previewFrame(ctx context.Context, w io.Writer, input []string) error {
	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	args = append(args, "-frames:v", "1", "-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "3", "pipe:1")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)
	cmd.Stdout = w
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
