package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/ffmpeg"
	"github.com/video-stream/subtitler/internal/logging"
)

// FrameSource yields decoded frames in order. Next returns io.EOF after the
// last frame.
type FrameSource interface {
	Next(img *image.RGBA) (int, error)
	Close() error
}

// FrameSink accepts encoded frames in order.
type FrameSink interface {
	WriteFrame(img *image.RGBA) error
	Close() error
}

// Media is the video toolchain the compositor drives.
type Media interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
	OpenFrames(ctx context.Context, path string, width, height int) (FrameSource, error)
	CreateFrames(ctx context.Context, out string, width, height int, fps float64) (FrameSink, error)
	Remux(ctx context.Context, videoPath, audioSrc, out string) error
}

type ffmpegMedia struct{ tool *ffmpeg.Tool }

// FFmpegMedia adapts an ffmpeg.Tool to Media.
func FFmpegMedia(tool *ffmpeg.Tool) Media { return ffmpegMedia{tool: tool} }

func (m ffmpegMedia) Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error) {
	return m.tool.Probe(ctx, path)
}

func (m ffmpegMedia) OpenFrames(ctx context.Context, path string, width, height int) (FrameSource, error) {
	return m.tool.DecodeFrames(ctx, path, width, height)
}

func (m ffmpegMedia) CreateFrames(ctx context.Context, out string, width, height int, fps float64) (FrameSink, error) {
	return m.tool.EncodeFrames(ctx, out, width, height, fps)
}

func (m ffmpegMedia) Remux(ctx context.Context, videoPath, audioSrc, out string) error {
	return m.tool.Remux(ctx, videoPath, audioSrc, out)
}

// Compositor draws a Plan onto every frame of a video and encodes the result
// in two passes: an intermediate stream, then a remux against the source
// audio.
type Compositor struct {
	media    Media
	typeface *Typeface
	logger   *slog.Logger
}

func NewCompositor(media Media, typeface *Typeface, logger *slog.Logger) *Compositor {
	return &Compositor{
		media:    media,
		typeface: typeface,
		logger:   logging.Component(logger, "compositor"),
	}
}

// Probe exposes the source metadata needed to build a plan.
func (c *Compositor) Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error) {
	info, err := c.media.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 || info.FPS <= 0 {
		return nil, fmt.Errorf("unusable video stream %dx%d@%v", info.Width, info.Height, info.FPS)
	}
	return info, nil
}

// Render writes source with plan drawn on it to out. progress receives the
// fraction of frames written. When the remux pass fails the intermediate
// stream is delivered instead and the outcome is degraded.
func (c *Compositor) Render(ctx context.Context, info *ffmpeg.MediaInfo, source, out string, plan Plan, style Style, progress func(float64)) (engine.Outcome[string], error) {
	intermediate := intermediatePath(out)
	defer os.Remove(intermediate)

	if err := c.composite(ctx, info, source, intermediate, plan, style, progress); err != nil {
		return engine.Outcome[string]{}, err
	}

	err := c.media.Remux(ctx, intermediate, source, out)
	if err == nil {
		return engine.Ok(out), nil
	}
	if ctx.Err() != nil {
		return engine.Outcome[string]{}, ctx.Err()
	}

	c.logger.Warn("remux failed, delivering intermediate stream", "output", out, "error", err)
	if rerr := os.Rename(intermediate, out); rerr != nil {
		return engine.Outcome[string]{}, fmt.Errorf("remux: %w; deliver intermediate: %v", err, rerr)
	}
	return engine.Degraded(out, "final encode failed, delivered intermediate video: "+firstLine(err.Error())), nil
}

func (c *Compositor) composite(ctx context.Context, info *ffmpeg.MediaInfo, source, intermediate string, plan Plan, style Style, progress func(float64)) (err error) {
	src, err := c.media.OpenFrames(ctx, source, info.Width, info.Height)
	if err != nil {
		return fmt.Errorf("open frames: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	sink, err := c.media.CreateFrames(ctx, intermediate, info.Width, info.Height, info.FPS)
	if err != nil {
		return fmt.Errorf("create intermediate: %w", err)
	}
	sinkClosed := false
	defer func() {
		if !sinkClosed {
			sink.Close()
		}
	}()

	p := c.typeface.painter(style)
	defer p.close()

	img := image.NewRGBA(image.Rect(0, 0, info.Width, info.Height))
	total := info.Frames
	drawn, written := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Next(img)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("decode frame %d: %w", written, err)
		}
		if overlays, ok := plan[n]; ok {
			for _, ov := range overlays {
				if err := p.draw(img, ov); err != nil {
					return fmt.Errorf("draw frame %d: %w", n, err)
				}
			}
			drawn++
		}
		if err := sink.WriteFrame(img); err != nil {
			return err
		}
		written++
		if progress != nil && total > 0 && written%10 == 0 {
			progress(min(float64(written)/float64(total), 0.99))
		}
	}

	sinkClosed = true
	if err := sink.Close(); err != nil {
		return err
	}
	if written == 0 {
		return errors.New("source video has no frames")
	}
	c.logger.Info("frames composited", "frames", written, "drawn", drawn)
	if progress != nil {
		progress(1)
	}
	return nil
}

func intermediatePath(out string) string {
	ext := filepath.Ext(out)
	return strings.TrimSuffix(out, ext) + "_temp" + ext
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
