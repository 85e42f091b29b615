package detect

import (
	"maps"
	"slices"

	"github.com/video-stream/subtitler/internal/subtitle"
)

// Subtitle is one distinct text line and every frame it was seen on.
type Subtitle struct {
	ID         int          `json:"id"`
	Text       string       `json:"text"`
	Frames     []int        `json:"frames"`
	FrameCount int          `json:"frame_count"`
	Box        subtitle.Box `json:"box"`
}

type group struct {
	text      string
	frames    []int
	boxOrder  []subtitle.Box
	boxCounts map[subtitle.Box]int
}

// Consolidate merges per-frame detections into distinct subtitles. Lines are
// grouped by exact text, each group takes its most frequent box (earliest
// seen on ties), and the result is ordered by first appearance with ids
// assigned densely from 0.
func Consolidate(frames map[int][]Detection) []Subtitle {
	groups := make(map[string]*group)
	var order []*group

	for _, frame := range slices.Sorted(maps.Keys(frames)) {
		for _, d := range frames[frame] {
			g, ok := groups[d.Text]
			if !ok {
				g = &group{text: d.Text, boxCounts: make(map[subtitle.Box]int)}
				groups[d.Text] = g
				order = append(order, g)
			}
			if n := len(g.frames); n == 0 || g.frames[n-1] != frame {
				g.frames = append(g.frames, frame)
			}
			if g.boxCounts[d.Box] == 0 {
				g.boxOrder = append(g.boxOrder, d.Box)
			}
			g.boxCounts[d.Box]++
		}
	}

	slices.SortStableFunc(order, func(a, b *group) int {
		return a.frames[0] - b.frames[0]
	})

	out := make([]Subtitle, 0, len(order))
	for i, g := range order {
		out = append(out, Subtitle{
			ID:         i,
			Text:       g.text,
			Frames:     g.frames,
			FrameCount: len(g.frames),
			Box:        g.modalBox(),
		})
	}
	return out
}

func (g *group) modalBox() subtitle.Box {
	var best subtitle.Box
	bestCount := 0
	for _, b := range g.boxOrder {
		if c := g.boxCounts[b]; c > bestCount {
			best, bestCount = b, c
		}
	}
	return best
}
