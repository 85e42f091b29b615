package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScanStreamsFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ocr" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req scanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VideoPath != "/videos/a.mp4" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, `{"frame":%d,"total":3,"width":1920,"height":1080,"detections":[{"text":"line %d","box":[100,900,600,650]}]}`+"\n", i, i)
		}
	}))
	defer srv.Close()

	var got []Frame
	err := NewClient(srv.URL+"/").Scan(context.Background(), "/videos/a.mp4", nil, func(f Frame) error {
		got = append(got, f)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("frames = %d, want 3", len(got))
	}
	if r := got[2].Detections[0].Rect(); r.XMin != 100 || r.XMax != 900 || r.YMin != 600 || r.YMax != 650 {
		t.Fatalf("rect = %+v", r)
	}
}

func TestScanSurfacesSidecarErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"frame":0,"total":10,"width":640,"height":360,"detections":[]}`)
		fmt.Fprintln(w, `{"error":"decoder crashed"}`)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Scan(context.Background(), "/v.mp4", nil, func(Frame) error { return nil })
	if err == nil || err.Error() != "ocr sidecar: decoder crashed" {
		t.Fatalf("err = %v", err)
	}
}

func TestScanStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).Scan(context.Background(), "/v.mp4", nil, func(Frame) error { return nil }); err == nil {
		t.Fatal("expected error for 503")
	}
}
