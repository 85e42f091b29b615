package detect

import (
	"strings"

	"github.com/video-stream/subtitler/internal/subtitle"
)

// Subtitle-shaped text heuristics.
const (
	minAspectRatio    = 3   // width >= 3 * height
	minVerticalOffset = 0.5 // top edge in the lower half of the frame
	minWidthFraction  = 0.2 // at least a fifth of the frame width
)

// Detection is one recognized text line on one frame.
type Detection struct {
	Text string       `json:"text"`
	Box  subtitle.Box `json:"box"`
}

// IsSubtitleRegion reports whether b is shaped and placed like a subtitle
// line on a frame of the given size. Nothing passes on a frame of unknown
// size.
func IsSubtitleRegion(b subtitle.Box, frameWidth, frameHeight int) bool {
	if frameWidth <= 0 || frameHeight <= 0 {
		return false
	}
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return false
	}
	if w < h*minAspectRatio {
		return false
	}
	if float64(b.YMin) < float64(frameHeight)*minVerticalOffset {
		return false
	}
	if float64(w) < float64(frameWidth)*minWidthFraction {
		return false
	}
	return true
}

// FilterFrame drops detections that are empty, not subtitle shaped, or that
// fall outside area when one is given.
func FilterFrame(dets []Detection, frameWidth, frameHeight int, area *subtitle.Box) []Detection {
	var kept []Detection
	for _, d := range dets {
		d.Text = strings.TrimSpace(d.Text)
		if d.Text == "" {
			continue
		}
		if !IsSubtitleRegion(d.Box, frameWidth, frameHeight) {
			continue
		}
		if area != nil && !area.Contains(d.Box) {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

// DefaultRegion is the band used for speech subtitles when no region was
// given or found: the lower part of the frame with a margin on each side.
func DefaultRegion(frameWidth, frameHeight int) subtitle.Box {
	return subtitle.Box{
		XMin: frameWidth / 10,
		XMax: frameWidth - frameWidth/10,
		YMin: frameHeight * 4 / 5,
		YMax: frameHeight * 19 / 20,
	}
}
