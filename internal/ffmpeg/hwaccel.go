package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// EncoderInfo describes one available H.264 encoder (hardware or software).
type EncoderInfo struct {
	Encoder string `json:"encoder"` // e.g. "h264_vaapi", "libx264"
	HWAccel string `json:"hwaccel"` // "vaapi" or "" for software
	Device  string `json:"device"`  // "/dev/dri/renderD128" or ""
}

// Software reports whether e runs on the CPU.
func (e EncoderInfo) Software() bool { return e.HWAccel == "" }

// HWCapabilities is the server-wide hardware detection result.
type HWCapabilities struct {
	Encoders  []EncoderInfo `json:"encoders"` // best first, libx264 always last
	HWAccel   string        `json:"hwaccel_type"`
	Device    string        `json:"device"`
	CanDecode bool          `json:"can_decode"`
}

var softwareEncoder = EncoderInfo{Encoder: "libx264"}

// Capabilities probes the system for a working VAAPI H.264 encoder once and
// caches the result.
func (t *Tool) Capabilities(ctx context.Context) *HWCapabilities {
	t.capsOnce.Do(func() {
		t.caps = t.detectHardware(ctx)
	})
	return t.caps
}

func (t *Tool) detectHardware(ctx context.Context) *HWCapabilities {
	caps := &HWCapabilities{HWAccel: "none"}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	device := findVAAPIDevice()
	if device == "" {
		t.logger.Info("no VAAPI device found, using software encoding")
	} else {
		caps.Device = device
		if err := t.testVAAPIEncoder(ctx, device, "h264_vaapi"); err != nil {
			t.logger.Info("VAAPI encoder not available", "device", device, "error", err)
		} else {
			caps.HWAccel = "vaapi"
			caps.Encoders = append(caps.Encoders, EncoderInfo{
				Encoder: "h264_vaapi",
				HWAccel: "vaapi",
				Device:  device,
			})
			caps.CanDecode = t.testVAAPIDecoder(ctx, device) == nil
			t.logger.Info("VAAPI encoder available", "device", device, "decode", caps.CanDecode)
		}
	}

	// Always keep the software encoder as the last resort
	caps.Encoders = append(caps.Encoders, softwareEncoder)
	return caps
}

// findVAAPIDevice looks for a VAAPI render node under /dev/dri/.
func findVAAPIDevice() string {
	candidates := []string{
		"/dev/dri/renderD128",
		"/dev/dri/renderD129",
	}
	for _, dev := range candidates {
		if _, err := os.Stat(dev); err == nil {
			return dev
		}
	}
	return ""
}

// testVAAPIEncoder runs a quick encode test to verify a VAAPI encoder works.
func (t *Tool) testVAAPIEncoder(ctx context.Context, device, encoder string) error {
	cmd := exec.CommandContext(ctx, t.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-init_hw_device", fmt.Sprintf("vaapi=hw:%s", device),
		"-f", "lavfi", "-i", "nullsrc=s=256x256:d=0.1:r=1",
		"-vf", "format=nv12,hwupload",
		"-c:v", encoder,
		"-frames:v", "1",
		"-f", "null", "-",
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// testVAAPIDecoder checks if VAAPI decoding is functional.
func (t *Tool) testVAAPIDecoder(ctx context.Context, device string) error {
	cmd := exec.CommandContext(ctx, t.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-hwaccel", "vaapi",
		"-hwaccel_device", device,
		"-f", "lavfi", "-i", "nullsrc=s=256x256:d=0.1:r=1",
		"-frames:v", "1",
		"-f", "null", "-",
	)
	return cmd.Run()
}

// encoderArgs returns the global arguments placed before the inputs and the
// video encoding arguments for enc.
func encoderArgs(enc EncoderInfo) (global, video []string) {
	if enc.HWAccel == "vaapi" {
		return []string{"-vaapi_device", enc.Device}, []string{
			"-vf", "format=nv12,hwupload",
			"-c:v", enc.Encoder,
			"-qp", "18",
		}
	}
	return nil, []string{
		"-c:v", enc.Encoder,
		"-preset", "medium",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
	}
}
