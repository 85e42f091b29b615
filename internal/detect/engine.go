package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/ffmpeg"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/subtitle"
	"github.com/video-stream/subtitler/internal/subtitle/ocr"
	"github.com/video-stream/subtitler/internal/subtitle/whisper"
)

// regionSamples is how many one-second-apart frames are scanned to locate
// burned-in subtitles for a speech detection.
const regionSamples = 10

// Prober reports stream geometry.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// OCRRunner scans every frame for burned-in text and consolidates it.
type OCRRunner struct {
	Scanner ocr.Scanner
	// Prober supplies the frame size when the scanner omits it. Without
	// either, no detection passes the region filter.
	Prober Prober
	// Area restricts detections to a client chosen rectangle.
	Area   *subtitle.Area
	Logger *slog.Logger
}

func (r *OCRRunner) Kind() engine.Kind { return engine.KindOCR }

func (r *OCRRunner) Run(ctx context.Context, job engine.Job, report engine.Reporter) (engine.Outcome[string], error) {
	logger := logging.Task(logging.Component(r.Logger, "ocr-engine"), job.TaskID)
	var area *subtitle.Box
	if r.Area != nil {
		b := r.Area.Box()
		area = &b
	}

	report(0, "scanning frames")
	var (
		frames                = make(map[int][]Detection)
		total, width, height  int
		lineCount, frameCount int
		probed                bool
	)
	err := r.Scanner.Scan(ctx, job.SourcePath, nil, func(f ocr.Frame) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		frameCount++
		total = max(total, f.Total)
		if f.Width > 0 && f.Height > 0 {
			width, height = f.Width, f.Height
		} else if !probed {
			probed = true
			width, height = r.probeSize(ctx, job.SourcePath, logger)
		}

		dets := make([]Detection, 0, len(f.Detections))
		for _, l := range f.Detections {
			dets = append(dets, Detection{Text: l.Text, Box: l.Rect()})
		}
		if kept := FilterFrame(dets, width, height, area); len(kept) > 0 {
			frames[f.Frame] = kept
			lineCount += len(kept)
		}
		if total > 0 {
			report(95*float64(f.Frame+1)/float64(total), fmt.Sprintf("scanned frame %d/%d", f.Frame+1, total))
		}
		return nil
	})
	if err != nil {
		return engine.Outcome[string]{}, fmt.Errorf("ocr scan: %w", err)
	}
	if total == 0 {
		total = frameCount
	}

	report(96, "consolidating subtitles")
	subs := Consolidate(frames)
	d := &Detected{
		Method:         MethodOCR,
		Subtitles:      subs,
		TotalFrames:    total,
		SubtitleCount:  lineCount,
		UniqueCount:    len(subs),
		SubtitleRegion: r.Area,
		Width:          width,
		Height:         height,
	}
	artifacts := ArtifactsFor(job.SourcePath, job.TaskID)
	if err := artifacts.WriteDetected(d); err != nil {
		return engine.Outcome[string]{}, fmt.Errorf("write detection: %w", err)
	}
	logger.Info("ocr detection finished", "frames", total, "lines", lineCount, "unique", len(subs))
	return engine.Ok(artifacts.DetectedPath()), nil
}

// probeSize asks the prober for the frame size. It returns zeros when it
// cannot, which makes the region filter drop everything.
func (r *OCRRunner) probeSize(ctx context.Context, path string, logger *slog.Logger) (int, int) {
	if r.Prober == nil {
		logger.Warn("ocr frames carry no size and no prober is set, detections will be dropped")
		return 0, 0
	}
	info, err := r.Prober.Probe(ctx, path)
	if err != nil {
		logger.Warn("probe for frame size failed, detections will be dropped", "error", err)
		return 0, 0
	}
	return info.Width, info.Height
}

// SpeechRunner transcribes the audio track and locates the region where
// translated text will be drawn. Its detection is confirmed automatically.
type SpeechRunner struct {
	Transcriber whisper.Transcriber
	Prober      Prober
	// Scanner is optional. Without it, or when it finds nothing, the region
	// is left unset.
	Scanner  ocr.Scanner
	Area     *subtitle.Area
	Language string
	Logger   *slog.Logger
}

func (r *SpeechRunner) Kind() engine.Kind { return engine.KindSpeech }

func (r *SpeechRunner) Run(ctx context.Context, job engine.Job, report engine.Reporter) (engine.Outcome[string], error) {
	logger := logging.Task(logging.Component(r.Logger, "speech-engine"), job.TaskID)

	report(0, "probing video")
	info, err := r.Prober.Probe(ctx, job.SourcePath)
	if err != nil {
		return engine.Outcome[string]{}, fmt.Errorf("probe: %w", err)
	}
	if !info.HasAudio() {
		return engine.Outcome[string]{}, errors.New("video has no audio track to transcribe")
	}

	var notes []string
	region := r.Area
	if region == nil {
		report(5, "locating subtitle region")
		region, err = r.locateRegion(ctx, job.SourcePath, info)
		switch {
		case ctx.Err() != nil:
			return engine.Outcome[string]{}, ctx.Err()
		case err != nil:
			logger.Warn("subtitle region scan failed", "error", err)
			notes = append(notes, "subtitle region scan failed: "+err.Error())
		case region == nil:
			notes = append(notes, "no subtitle region detected")
		}
	}

	report(30, "transcribing audio")
	res, err := r.Transcriber.Transcribe(ctx, whisper.TranscribeRequest{
		FilePath: job.SourcePath,
		Language: r.Language,
	}, func(frac float64) {
		report(30+65*frac, "transcribing audio")
	})
	if err != nil {
		return engine.Outcome[string]{}, fmt.Errorf("transcribe with %s: %w", r.Transcriber.Name(), err)
	}

	segs := make([]Segment, 0, len(res.Cues))
	for _, c := range res.Cues {
		if c.Text == "" {
			continue
		}
		segs = append(segs, Segment{ID: len(segs), Start: c.Start, End: c.End, Text: c.Text})
	}

	d := &Detected{
		Method:         MethodSpeech,
		Segments:       segs,
		SubtitleCount:  len(segs),
		UniqueCount:    len(segs),
		SubtitleRegion: region,
		Width:          info.Width,
		Height:         info.Height,
		FPS:            info.FPS,
		Language:       res.Language,
		Notes:          notes,
	}
	artifacts := ArtifactsFor(job.SourcePath, job.TaskID)
	if err := artifacts.WriteDetected(d); err != nil {
		return engine.Outcome[string]{}, fmt.Errorf("write detection: %w", err)
	}
	if err := artifacts.WriteConfirmed(AutoConfirm(d)); err != nil {
		return engine.Outcome[string]{}, fmt.Errorf("write confirmation: %w", err)
	}
	logger.Info("speech detection finished", "segments", len(segs), "engine", r.Transcriber.Name(), "region", region)

	out := engine.Ok(artifacts.DetectedPath())
	if region == nil {
		out = out.With("no subtitle region, translation will use the default bottom band")
	}
	return out, nil
}

// locateRegion samples up to ten frames one second apart and returns the
// union of the subtitle shaped text found on them.
func (r *SpeechRunner) locateRegion(ctx context.Context, path string, info *ffmpeg.MediaInfo) (*subtitle.Area, error) {
	if r.Scanner == nil {
		return nil, nil
	}
	samples := SampleFrames(info.FPS, info.Frames, regionSamples)
	if len(samples) == 0 {
		return nil, nil
	}

	var union subtitle.Box
	err := r.Scanner.Scan(ctx, path, samples, func(f ocr.Frame) error {
		w, h := f.Width, f.Height
		if w == 0 || h == 0 {
			w, h = info.Width, info.Height
		}
		for _, l := range f.Detections {
			if b := l.Rect(); IsSubtitleRegion(b, w, h) {
				union = union.Union(b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if union.Empty() {
		return nil, nil
	}
	area := subtitle.AreaOf(union)
	return &area, nil
}

// SampleFrames returns frame numbers one second apart from the start of the
// video, at most n of them.
func SampleFrames(fps float64, frames, n int) []int {
	if fps <= 0 || frames <= 0 {
		return nil
	}
	step := int(fps + 0.5)
	if step < 1 {
		step = 1
	}
	var out []int
	for f := 0; f < frames && len(out) < n; f += step {
		out = append(out, f)
	}
	return out
}
