package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// FrameReader decodes a video to RGBA frames through a rawvideo pipe.
type FrameReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	width  int
	height int
	index  int
}

// DecodeFrames starts decoding path at its native size. Frames come out in
// decode order, numbered from 0.
func (t *Tool) DecodeFrames(ctx context.Context, path string, width, height int) (*FrameReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	r := &FrameReader{width: width, height: height}
	r.cmd = exec.CommandContext(ctx, t.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
	r.cmd.Stderr = &r.stderr
	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	r.stdout = stdout
	if err := r.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg decode: %w", err)
	}
	return r, nil
}

// Next fills img with the next frame and returns its number. It returns
// io.EOF after the last frame.
func (r *FrameReader) Next(img *image.RGBA) (int, error) {
	if len(img.Pix) != r.width*r.height*4 {
		return 0, fmt.Errorf("frame buffer is %d bytes, want %d", len(img.Pix), r.width*r.height*4)
	}
	if _, err := io.ReadFull(r.stdout, img.Pix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("truncated frame %d", r.index)
		}
		return 0, err
	}
	n := r.index
	r.index++
	return n, nil
}

// Close stops the decoder and reports its exit status.
func (r *FrameReader) Close() error {
	r.stdout.Close()
	if err := r.cmd.Wait(); err != nil {
		if r.index > 0 && strings.Contains(err.Error(), "signal: broken pipe") {
			return nil
		}
		return fmt.Errorf("ffmpeg decode: %w: %s", err, strings.TrimSpace(r.stderr.String()))
	}
	return nil
}

// FrameWriter encodes RGBA frames to an intermediate file.
type FrameWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	size   int
}

// EncodeFrames starts an intermediate encode of width x height RGBA frames at
// fps into out. The intermediate codec is mpeg4 at high quality so the final
// pass loses little.
func (t *Tool) EncodeFrames(ctx context.Context, out string, width, height int, fps float64) (*FrameWriter, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return nil, fmt.Errorf("invalid encode parameters %dx%d@%v", width, height, fps)
	}
	w := &FrameWriter{size: width * height * 4}
	w.cmd = exec.CommandContext(ctx, t.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "pipe:0",
		"-c:v", "mpeg4",
		"-q:v", "2",
		"-pix_fmt", "yuv420p",
		"-y", out,
	)
	w.cmd.Stderr = &w.stderr
	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	w.stdin = stdin
	if err := w.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg encode: %w", err)
	}
	return w, nil
}

// WriteFrame appends one frame.
func (w *FrameWriter) WriteFrame(img *image.RGBA) error {
	if len(img.Pix) != w.size {
		return fmt.Errorf("frame is %d bytes, want %d", len(img.Pix), w.size)
	}
	if _, err := w.stdin.Write(img.Pix); err != nil {
		return fmt.Errorf("write frame: %w: %s", err, strings.TrimSpace(w.stderr.String()))
	}
	return nil
}

// Close flushes the encoder and waits for it to exit.
func (w *FrameWriter) Close() error {
	w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encode: %w: %s", err, strings.TrimSpace(w.stderr.String()))
	}
	return nil
}
