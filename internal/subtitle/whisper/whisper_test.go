package whisper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/video-stream/subtitler/internal/logging"
)

func TestSendToServerParsesMultipartReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("response_format") != "vtt" || r.FormValue("language") != "ja" {
			http.Error(w, "bad fields", http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "RIFF" {
			http.Error(w, "bad audio", http.StatusBadRequest)
			return
		}
		io.WriteString(w, "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nkonnichiwa\n")
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewWhisperCppClient(srv.URL+"/", "ffmpeg", logging.NewNop())
	vtt, err := c.sendToServer(context.Background(), audio, "ja")
	if err != nil {
		t.Fatalf("sendToServer: %v", err)
	}
	if vtt == "" {
		t.Fatal("expected VTT body")
	}
}

func TestServicePriority(t *testing.T) {
	s := NewService("", "", "ffmpeg", logging.NewNop())
	if _, err := s.Default(); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("err = %v, want ErrNoEngine", err)
	}

	s = NewService("http://whisper:8080", "sk-test", "ffmpeg", logging.NewNop())
	def, err := s.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if def.Name() != "whisper.cpp" {
		t.Fatalf("default = %s, want whisper.cpp", def.Name())
	}
	if names := s.Names(); len(names) != 2 || names[1] != "openai" {
		t.Fatalf("names = %v", names)
	}
}

func TestIsRetryableError(t *testing.T) {
	if !isRetryableError(0, errors.New("dial tcp: connection refused")) {
		t.Error("connection refused should be retryable")
	}
	if !isRetryableError(503, nil) {
		t.Error("503 should be retryable")
	}
	if isRetryableError(400, nil) {
		t.Error("400 should not be retryable")
	}
}
