// Package subtitle holds the subtitle data model shared by detection,
// translation and rendering.
package subtitle

import "fmt"

// Cue is a time-coded subtitle segment.
type Cue struct {
	Index int     `json:"index"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Text  string  `json:"text"`
}

// Box is a pixel rectangle on a video frame. Max bounds are exclusive.
type Box struct {
	XMin int `json:"xmin"`
	XMax int `json:"xmax"`
	YMin int `json:"ymin"`
	YMax int `json:"ymax"`
}

func (b Box) Width() int  { return b.XMax - b.XMin }
func (b Box) Height() int { return b.YMax - b.YMin }

// Empty reports whether b encloses no pixels.
func (b Box) Empty() bool { return b.Width() <= 0 || b.Height() <= 0 }

// Contains reports whether o lies entirely inside b.
func (b Box) Contains(o Box) bool {
	return o.XMin >= b.XMin && o.XMax <= b.XMax && o.YMin >= b.YMin && o.YMax <= b.YMax
}

// Union returns the smallest box enclosing b and o. An empty b yields o.
func (b Box) Union(o Box) Box {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	return Box{
		XMin: min(b.XMin, o.XMin),
		XMax: max(b.XMax, o.XMax),
		YMin: min(b.YMin, o.YMin),
		YMax: max(b.YMax, o.YMax),
	}
}

// Clip limits b to a frame of the given size.
func (b Box) Clip(width, height int) Box {
	return Box{
		XMin: clamp(b.XMin, 0, width),
		XMax: clamp(b.XMax, 0, width),
		YMin: clamp(b.YMin, 0, height),
		YMax: clamp(b.YMax, 0, height),
	}
}

// Area is the [ymin, ymax, xmin, xmax] form clients use to describe a region.
type Area [4]int

// Box converts an area to a Box.
func (a Area) Box() Box {
	return Box{YMin: a[0], YMax: a[1], XMin: a[2], XMax: a[3]}
}

// AreaOf is the inverse of Area.Box.
func AreaOf(b Box) Area {
	return Area{b.YMin, b.YMax, b.XMin, b.XMax}
}

// Validate checks that the area describes a non-empty rectangle.
func (a Area) Validate() error {
	if a[0] < 0 || a[2] < 0 || a[1] <= a[0] || a[3] <= a[2] {
		return fmt.Errorf("invalid area %v: want [ymin, ymax, xmin, xmax] with min < max", [4]int(a))
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
