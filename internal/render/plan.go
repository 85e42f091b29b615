// Package render composites translated subtitles onto video frames and
// drives the final encode.
package render

import (
	"math"

	"github.com/video-stream/subtitler/internal/subtitle"
)

// Overlay is one piece of text drawn over a region of a frame.
type Overlay struct {
	Text string
	Box  subtitle.Box
}

// Plan maps a 0-based frame number to the overlays drawn on it. Frames
// absent from the plan pass through untouched.
type Plan map[int][]Overlay

// Segment is a translated, time-coded subtitle.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// FrameOf converts a timestamp to the nearest frame number.
func FrameOf(seconds, fps float64) int {
	return int(math.Round(seconds * fps))
}

// TimedPlan places each segment on the inclusive frame range
// [round(start*fps), round(end*fps)] within region. Where segments overlap
// the later one wins.
func TimedPlan(segments []Segment, fps float64, region subtitle.Box) Plan {
	plan := make(Plan)
	if fps <= 0 {
		return plan
	}
	for _, s := range segments {
		if s.Text == "" {
			continue
		}
		first, last := FrameOf(s.Start, fps), FrameOf(s.End, fps)
		if first < 0 {
			first = 0
		}
		for f := first; f <= last; f++ {
			plan[f] = []Overlay{{Text: s.Text, Box: region}}
		}
	}
	return plan
}

// Placed is a translated subtitle with the frames and box it was detected
// on.
type Placed struct {
	Text   string
	Frames []int
	Box    subtitle.Box
}

// FramePlan overlays each subtitle on exactly the frames it was detected on.
// Distinct subtitles sharing a frame are all drawn.
func FramePlan(subs []Placed) Plan {
	plan := make(Plan)
	for _, s := range subs {
		if s.Text == "" || s.Box.Empty() {
			continue
		}
		for _, f := range s.Frames {
			plan[f] = append(plan[f], Overlay{Text: s.Text, Box: s.Box})
		}
	}
	return plan
}

// Len returns the number of frames carrying an overlay.
func (p Plan) Len() int { return len(p) }
