package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var timestampRe = regexp.MustCompile(`((?:\d{2,}:)?\d{2}:\d{2}[.,]\d{3})\s*-->\s*((?:\d{2,}:)?\d{2}:\d{2}[.,]\d{3})`)

// ParseVTT parses WebVTT (or SRT) content into cues.
func ParseVTT(content string) []Cue {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	var cues []Cue
	var current *Cue
	index := 0

	flush := func() {
		if current != nil && current.Text != "" {
			cues = append(cues, *current)
		}
		current = nil
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "WEBVTT") || line == "" {
			flush()
			continue
		}

		if m := timestampRe.FindStringSubmatch(line); len(m) == 3 {
			flush()
			index++
			current = &Cue{
				Index: index,
				Start: parseTimestamp(m[1]),
				End:   parseTimestamp(m[2]),
			}
			continue
		}

		// Cue identifiers before the timing line
		if current == nil {
			continue
		}
		if current.Text != "" {
			current.Text += "\n"
		}
		current.Text += line
	}
	flush()

	return cues
}

// CuesToVTT renders cues as WebVTT.
func CuesToVTT(cues []Cue) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")

	for i, cue := range cues {
		fmt.Fprintf(&sb, "%d\n", i+1)
		fmt.Fprintf(&sb, "%s --> %s\n", formatTimestamp(cue.Start), formatTimestamp(cue.End))
		sb.WriteString(cue.Text)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func parseTimestamp(ts string) float64 {
	ts = strings.Replace(ts, ",", ".", 1)
	parts := strings.Split(ts, ":")
	var h, m int
	var s float64
	switch len(parts) {
	case 3:
		h, _ = strconv.Atoi(parts[0])
		m, _ = strconv.Atoi(parts[1])
		s, _ = strconv.ParseFloat(parts[2], 64)
	case 2:
		m, _ = strconv.Atoi(parts[0])
		s, _ = strconv.ParseFloat(parts[1], 64)
	}
	return float64(h*3600+m*60) + s
}

func formatTimestamp(seconds float64) string {
	totalMs := int64(seconds*1000 + 0.5)
	h := totalMs / 3600000
	totalMs %= 3600000
	m := totalMs / 60000
	totalMs %= 60000
	s := totalMs / 1000
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
