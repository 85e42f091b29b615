package detect

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/video-stream/subtitler/internal/subtitle"
)

func TestArtifactRoundTripNormalizesBothMethods(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "clip.mp4")

	ocr := ArtifactsFor(source, "ocr-task")
	if err := ocr.WriteDetected(&Detected{
		Method:        MethodOCR,
		Subtitles:     []Subtitle{{ID: 0, Text: "A", Frames: []int{1, 2}, FrameCount: 2, Box: box1}},
		TotalFrames:   100,
		SubtitleCount: 2,
	}); err != nil {
		t.Fatalf("WriteDetected ocr: %v", err)
	}

	region := subtitle.Area{900, 1000, 100, 1800}
	speech := ArtifactsFor(source, "speech-task")
	if err := speech.WriteDetected(&Detected{
		Method:         MethodSpeech,
		Segments:       []Segment{{ID: 0, Start: 1, End: 2, Text: "hello"}, {ID: 1, Start: 2.5, End: 3, Text: "bye"}},
		SubtitleRegion: &region,
	}); err != nil {
		t.Fatalf("WriteDetected speech: %v", err)
	}

	for name, a := range map[string]Artifacts{"ocr": ocr, "speech": speech} {
		d, err := a.ReadDetected()
		if err != nil {
			t.Fatalf("%s: ReadDetected: %v", name, err)
		}
		n := Normalize(d)
		if n.Status != "completed" || len(n.Subtitles) == 0 {
			t.Fatalf("%s: normalized = %+v", name, n)
		}
		if n.UniqueCount != len(n.Subtitles) {
			t.Fatalf("%s: unique_count = %d, subtitles = %d", name, n.UniqueCount, len(n.Subtitles))
		}
	}

	d, _ := speech.ReadDetected()
	n := Normalize(d)
	if n.TotalFrames != 0 || n.SubtitleCount != 2 || n.SubtitleRegion == nil || *n.Subtitles[1].Start != 2.5 {
		t.Fatalf("speech normalized = %+v", n)
	}
}

func TestSelectionRules(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "clip.mp4")

	none := ArtifactsFor(source, "none")
	if _, err := none.Selection(); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("no artifacts err = %v, want ErrNoSelection", err)
	}

	ocr := ArtifactsFor(source, "ocr")
	if err := ocr.WriteDetected(&Detected{Method: MethodOCR}); err != nil {
		t.Fatalf("WriteDetected: %v", err)
	}
	if _, err := ocr.Selection(); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("unconfirmed ocr err = %v, want ErrNoSelection", err)
	}

	start, end := 0.0, 1.5
	c, err := ConfirmEntries(MethodOCR, []Entry{
		{ID: 0, Text: " kept ", Frames: []int{3, 4}, Box: &box1},
		{ID: 1, Text: "", Frames: []int{5}, Box: &box1},
	}, nil)
	if err != nil {
		t.Fatalf("ConfirmEntries: %v", err)
	}
	if err := ocr.WriteConfirmed(c); err != nil {
		t.Fatalf("WriteConfirmed: %v", err)
	}
	sel, err := ocr.Selection()
	if err != nil {
		t.Fatalf("Selection: %v", err)
	}
	if len(sel.Subtitles) != 1 || sel.Subtitles[0].Text != "kept" || sel.Subtitles[0].FrameCount != 2 {
		t.Fatalf("selection = %+v", sel)
	}

	speech := ArtifactsFor(source, "speech")
	if err := speech.WriteDetected(&Detected{Method: MethodSpeech, Segments: []Segment{{Start: start, End: end, Text: "hi"}}}); err != nil {
		t.Fatalf("WriteDetected: %v", err)
	}
	auto, err := speech.Selection()
	if err != nil {
		t.Fatalf("speech Selection: %v", err)
	}
	if !auto.AutoConfirmed || len(auto.Segments) != 1 {
		t.Fatalf("auto selection = %+v", auto)
	}
}

func TestConfirmEntriesValidation(t *testing.T) {
	if _, err := ConfirmEntries(MethodOCR, []Entry{{Text: "no frames", Box: &box1}}, nil); err == nil {
		t.Fatal("expected ocr entry without frames to fail")
	}
	start, end := 2.0, 1.0
	if _, err := ConfirmEntries(MethodSpeech, []Entry{{Text: "backwards", Start: &start, End: &end}}, nil); err == nil {
		t.Fatal("expected inverted speech entry to fail")
	}
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{"": MethodOCR, "OCR": MethodOCR, "speech": MethodSpeech, "whisper": MethodSpeech} {
		got, err := ParseMethod(in)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMethod("sonar"); err == nil {
		t.Error("expected unknown method to fail")
	}
}
