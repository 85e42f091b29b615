package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

type ProbeFormat struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

type ProbeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"` // video, audio, subtitle
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	RFrameRate string `json:"r_frame_rate,omitempty"`
	NbFrames   string `json:"nb_frames,omitempty"`
}

type MediaInfo struct {
	Duration   float64 `json:"duration"` // seconds
	VideoCodec string  `json:"video_codec"`
	AudioCodec string  `json:"audio_codec"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	Frames     int     `json:"frames"` // 0 when the container does not say
}

// HasAudio reports whether the file carries an audio stream.
func (m *MediaInfo) HasAudio() bool { return m.AudioCodec != "" }

// Probe reads container and stream metadata with ffprobe.
func (t *Tool) Probe(ctx context.Context, filePath string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, t.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filePath, err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (*MediaInfo, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	info.Duration, _ = strconv.ParseFloat(result.Format.Duration, 64)

	for _, s := range result.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
				info.FPS = ParseFrameRate(s.RFrameRate)
				info.Frames, _ = strconv.Atoi(s.NbFrames)
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}

	if info.VideoCodec == "" {
		return nil, fmt.Errorf("no video stream")
	}
	if info.Frames == 0 && info.FPS > 0 && info.Duration > 0 {
		info.Frames = int(info.Duration*info.FPS + 0.5)
	}
	return info, nil
}

// ParseFrameRate converts ffprobe rates such as "30000/1001" or "25" to
// frames per second. Invalid input yields 0.
func ParseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(rate), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0
	}
	return n / d
}
