// Package ocr talks to the text detection and recognition sidecar.
package ocr

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/video-stream/subtitler/internal/subtitle"
)

// TextLine is one recognized line. Box is [xmin, xmax, ymin, ymax].
type TextLine struct {
	Text string `json:"text"`
	Box  [4]int `json:"box"`
}

// Rect converts the wire box to a subtitle.Box.
func (l TextLine) Rect() subtitle.Box {
	return subtitle.Box{XMin: l.Box[0], XMax: l.Box[1], YMin: l.Box[2], YMax: l.Box[3]}
}

// Frame is the result for one decoded frame. Frame numbers are 0-based.
type Frame struct {
	Frame      int        `json:"frame"`
	Total      int        `json:"total"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Detections []TextLine `json:"detections"`
	Error      string     `json:"error,omitempty"`
}

type scanRequest struct {
	VideoPath string `json:"video_path"`
	Frames    []int  `json:"frames,omitempty"`
}

// Scanner is the capability detection engines depend on.
type Scanner interface {
	Scan(ctx context.Context, videoPath string, frames []int, fn func(Frame) error) error
}

// Client streams per-frame OCR results from the sidecar.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// A full scan streams for as long as the video takes to decode
			Timeout: 0,
		},
	}
}

// Scan requests OCR for videoPath (restricted to frames when non-empty) and
// calls fn for every frame the sidecar reports, in stream order. Returning an
// error from fn stops the scan.
func (c *Client) Scan(ctx context.Context, videoPath string, frames []int, fn func(Frame) error) error {
	body, err := json.Marshal(scanRequest{VideoPath: videoPath, Frames: frames})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ocr", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ocr sidecar request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ocr sidecar error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return fmt.Errorf("decode ocr frame: %w", err)
		}
		if f.Error != "" {
			return fmt.Errorf("ocr sidecar: %s", f.Error)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read ocr stream: %w", err)
	}
	return ctx.Err()
}

// Ping checks that the sidecar is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ocr sidecar health: status %d", resp.StatusCode)
	}
	return nil
}
