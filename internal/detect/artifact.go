package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/video-stream/subtitler/internal/subtitle"
)

// Method names the detection variant that produced an artifact.
type Method string

const (
	MethodOCR    Method = "ocr"
	MethodSpeech Method = "speech"
)

// ParseMethod accepts "ocr" and "speech" ("whisper" is an alias for speech).
// An empty value selects OCR.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ocr":
		return MethodOCR, nil
	case "speech", "whisper":
		return MethodSpeech, nil
	}
	return "", fmt.Errorf("unknown detection method %q", s)
}

// ErrNoSelection means neither a confirmation nor a speech detection exists
// for a task, so there is nothing to translate or remove.
var ErrNoSelection = errors.New("no confirmed subtitles")

// Segment is one time-coded speech subtitle.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Detected is the artifact a detection run writes.
type Detected struct {
	Method         Method         `json:"method"`
	Subtitles      []Subtitle     `json:"subtitles,omitempty"`
	Segments       []Segment      `json:"segments,omitempty"`
	TotalFrames    int            `json:"total_frames"`
	SubtitleCount  int            `json:"subtitle_count"`
	UniqueCount    int            `json:"unique_count"`
	SubtitleRegion *subtitle.Area `json:"subtitle_region,omitempty"`
	Width          int            `json:"width,omitempty"`
	Height         int            `json:"height,omitempty"`
	FPS            float64        `json:"fps,omitempty"`
	Language       string         `json:"language,omitempty"`
	Notes          []string       `json:"notes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Confirmed is the user approved (or auto approved) selection.
type Confirmed struct {
	Method         Method         `json:"method"`
	AutoConfirmed  bool           `json:"auto_confirmed"`
	Subtitles      []Subtitle     `json:"subtitles,omitempty"`
	Segments       []Segment      `json:"segments,omitempty"`
	SubtitleRegion *subtitle.Area `json:"subtitle_region,omitempty"`
	ConfirmedAt    time.Time      `json:"confirmed_at"`
}

// Entry is the method-independent view of one subtitle, used both for
// reading results and for confirmation requests.
type Entry struct {
	ID         int           `json:"id"`
	Text       string        `json:"text"`
	Frames     []int         `json:"frames,omitempty"`
	FrameCount int           `json:"frame_count,omitempty"`
	Box        *subtitle.Box `json:"box,omitempty"`
	Start      *float64      `json:"start,omitempty"`
	End        *float64      `json:"end,omitempty"`
}

// Normalized is a detection artifact in the shape clients read, whichever
// method produced it.
type Normalized struct {
	Status         string         `json:"status"`
	Method         Method         `json:"method"`
	Subtitles      []Entry        `json:"subtitles"`
	TotalFrames    int            `json:"total_frames"`
	SubtitleCount  int            `json:"subtitle_count"`
	UniqueCount    int            `json:"unique_count"`
	SubtitleRegion *subtitle.Area `json:"subtitle_region,omitempty"`
	Notes          []string       `json:"notes,omitempty"`
}

// Normalize converts d to the client shape. Speech segments become entries
// with start and end, and report zero frames.
func Normalize(d *Detected) Normalized {
	n := Normalized{
		Status:         "completed",
		Method:         d.Method,
		SubtitleRegion: d.SubtitleRegion,
		Notes:          d.Notes,
	}
	switch d.Method {
	case MethodSpeech:
		n.Subtitles = segmentEntries(d.Segments)
		n.SubtitleCount = len(d.Segments)
		n.UniqueCount = len(d.Segments)
	default:
		n.Subtitles = subtitleEntries(d.Subtitles)
		n.TotalFrames = d.TotalFrames
		n.SubtitleCount = d.SubtitleCount
		n.UniqueCount = len(d.Subtitles)
	}
	return n
}

func segmentEntries(segs []Segment) []Entry {
	out := make([]Entry, 0, len(segs))
	for _, s := range segs {
		start, end := s.Start, s.End
		out = append(out, Entry{ID: s.ID, Text: s.Text, Start: &start, End: &end})
	}
	return out
}

func subtitleEntries(subs []Subtitle) []Entry {
	out := make([]Entry, 0, len(subs))
	for _, s := range subs {
		box := s.Box
		out = append(out, Entry{ID: s.ID, Text: s.Text, Frames: s.Frames, FrameCount: s.FrameCount, Box: &box})
	}
	return out
}

// ConfirmEntries builds a confirmation for method from client entries.
// Entries with blank text are dropped.
func ConfirmEntries(method Method, entries []Entry, region *subtitle.Area) (*Confirmed, error) {
	c := &Confirmed{Method: method, SubtitleRegion: region, ConfirmedAt: time.Now().UTC()}
	for i, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		switch method {
		case MethodSpeech:
			if e.Start == nil || e.End == nil || *e.End < *e.Start {
				return nil, fmt.Errorf("subtitle %d: speech entries need start <= end", i)
			}
			c.Segments = append(c.Segments, Segment{ID: e.ID, Start: *e.Start, End: *e.End, Text: text})
		default:
			if len(e.Frames) == 0 || e.Box == nil || e.Box.Empty() {
				return nil, fmt.Errorf("subtitle %d: ocr entries need frames and a box", i)
			}
			c.Subtitles = append(c.Subtitles, Subtitle{
				ID: e.ID, Text: text, Frames: e.Frames, FrameCount: len(e.Frames), Box: *e.Box,
			})
		}
	}
	return c, nil
}

// AutoConfirm derives the confirmation for a speech detection.
func AutoConfirm(d *Detected) *Confirmed {
	return &Confirmed{
		Method:         d.Method,
		AutoConfirmed:  true,
		Subtitles:      d.Subtitles,
		Segments:       d.Segments,
		SubtitleRegion: d.SubtitleRegion,
		ConfirmedAt:    time.Now().UTC(),
	}
}

// Artifacts locates the side files of one task. They live next to the
// source video and are named after the task id.
type Artifacts struct {
	Dir    string
	TaskID string
}

// ArtifactsFor returns the artifact locations for a task whose source video
// is at sourcePath.
func ArtifactsFor(sourcePath, taskID string) Artifacts {
	return Artifacts{Dir: filepath.Dir(sourcePath), TaskID: taskID}
}

func (a Artifacts) DetectedPath() string {
	return filepath.Join(a.Dir, a.TaskID+"_detected.json")
}

func (a Artifacts) ConfirmedPath() string {
	return filepath.Join(a.Dir, a.TaskID+"_confirmed.json")
}

// TranslatedVTTPath is where the translated subtitles of the last run are
// written.
func (a Artifacts) TranslatedVTTPath() string {
	return filepath.Join(a.Dir, a.TaskID+"_translated.vtt")
}

func (a Artifacts) WriteDetected(d *Detected) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return writeJSON(a.DetectedPath(), d)
}

// ReadDetected returns an error wrapping os.ErrNotExist when detection has
// not produced an artifact yet.
func (a Artifacts) ReadDetected() (*Detected, error) {
	var d Detected
	if err := readJSON(a.DetectedPath(), &d); err != nil {
		return nil, err
	}
	if d.Method == "" {
		d.Method = MethodOCR
	}
	return &d, nil
}

func (a Artifacts) WriteConfirmed(c *Confirmed) error {
	return writeJSON(a.ConfirmedPath(), c)
}

func (a Artifacts) ReadConfirmed() (*Confirmed, error) {
	var c Confirmed
	if err := readJSON(a.ConfirmedPath(), &c); err != nil {
		return nil, err
	}
	if c.Method == "" {
		c.Method = MethodOCR
	}
	return &c, nil
}

// Selection returns the subtitles a transform should use: the confirmation
// if one exists, else an automatic confirmation of a speech detection.
func (a Artifacts) Selection() (*Confirmed, error) {
	c, err := a.ReadConfirmed()
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	d, err := a.ReadDetected()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrNoSelection
	case err != nil:
		return nil, err
	case d.Method != MethodSpeech:
		return nil, ErrNoSelection
	}
	return AutoConfirm(d), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
