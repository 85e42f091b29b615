package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/video-stream/subtitler/internal/config"
	"github.com/video-stream/subtitler/internal/db"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/pipeline"
	"github.com/video-stream/subtitler/internal/subtitle/ocr"
	"github.com/video-stream/subtitler/internal/task"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newServerWith(t, pipeline.Engines{})
}

func newServerWith(t *testing.T, engines pipeline.Engines) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	database, err := db.NewSQLite(filepath.Join(dir, "tasks.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := logging.NewNop()
	registry := task.NewRegistry(database, filepath.Join(dir, "uploads"), logger)
	executor := task.NewExecutor(registry, logger, 10*time.Millisecond)
	svc := pipeline.New(registry, executor, engines, logger)

	cfg := config.Default()
	cfg.MaxUploadMB = 1
	cfg.ProgressIntervalMS = 10

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(NewRouter(ctx, svc, &cfg, logger))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		executor.Shutdown(context.Background())
	})
	return srv
}

func upload(t *testing.T, srv *httptest.Server, name, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestUploadStatusAndList(t *testing.T) {
	srv := newServer(t)

	resp := upload(t, srv, "clip.mp4", "fake video")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var created struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	decode(t, resp, &created)
	if created.TaskID == "" || created.Status != "uploaded" {
		t.Fatalf("created = %+v", created)
	}

	resp, err := http.Get(srv.URL + "/api/status/" + created.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	var snap task.Snapshot
	decode(t, resp, &snap)
	if snap.Status != "uploaded" || snap.TaskID != created.TaskID {
		t.Fatalf("snapshot = %+v", snap)
	}

	resp, err = http.Get(srv.URL + "/api/tasks")
	if err != nil {
		t.Fatal(err)
	}
	var list []map[string]any
	decode(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("tasks = %v", list)
	}
}

func TestUploadRejectsUnsupportedFile(t *testing.T) {
	srv := newServer(t)
	resp := upload(t, srv, "notes.txt", "hello")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/api/status/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown task status = %d", resp.StatusCode)
	}

	var created struct {
		TaskID string `json:"task_id"`
	}
	decode(t, upload(t, srv, "clip.mp4", "v"), &created)

	body := `{"task_id":"` + created.TaskID + `","detection_method":"ocr"}`
	resp, err = http.Post(srv.URL+"/api/detect", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var msg map[string]string
	decode(t, resp, &msg)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(msg["error"], "not configured") {
		t.Fatalf("detect without engine = %d %v", resp.StatusCode, msg)
	}

	resp, err = http.Get(srv.URL + "/api/download/" + created.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("download before completion = %d", resp.StatusCode)
	}
}

func TestProgressStreamClosesOnIdleTask(t *testing.T) {
	srv := newServer(t)
	var created struct {
		TaskID string `json:"task_id"`
	}
	decode(t, upload(t, srv, "clip.mp4", "v"), &created)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + created.TaskID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap task.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Status != "uploaded" {
		t.Fatalf("snapshot = %+v", snap)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestProgressStreamUnknownTask(t *testing.T) {
	srv := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %v", resp)
	}
}

func TestPresetsAndEngines(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/api/presets")
	if err != nil {
		t.Fatal(err)
	}
	var presets []map[string]string
	decode(t, resp, &presets)
	if len(presets) < 4 {
		t.Fatalf("presets = %v", presets)
	}

	resp, err = http.Get(srv.URL + "/api/engines")
	if err != nil {
		t.Fatal(err)
	}
	var engines []map[string]string
	decode(t, resp, &engines)
	if engines == nil {
		t.Fatal("engines should be an empty list, not null")
	}
}

func TestHealthReportsStore(t *testing.T) {
	srv := newServer(t)
	upload(t, srv, "clip.mp4", "v").Body.Close()
	upload(t, srv, "copy.mp4", "v").Body.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	var report struct {
		Status string `json:"status"`
		Files  int    `json:"files"`
		OCR    string `json:"ocr"`
	}
	decode(t, resp, &report)
	if report.Status != "ok" || report.Files != 1 || report.OCR != "disabled" {
		t.Fatalf("health = %+v", report)
	}
}

// gatedScanner reports one frame, then holds the scan open until release is
// closed.
type gatedScanner struct {
	release chan struct{}
}

func (g gatedScanner) Scan(ctx context.Context, _ string, _ []int, fn func(ocr.Frame) error) error {
	if err := fn(ocr.Frame{Frame: 0, Total: 4, Width: 1920, Height: 1080}); err != nil {
		return err
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn(ocr.Frame{Frame: 3, Total: 4, Width: 1920, Height: 1080, Detections: []ocr.TextLine{
		{Text: "hello", Box: [4]int{400, 1500, 900, 960}},
	}})
}

func TestProgressStreamFollowsRunningTask(t *testing.T) {
	release := make(chan struct{})
	srv := newServerWith(t, pipeline.Engines{OCR: gatedScanner{release: release}})

	var created struct {
		TaskID string `json:"task_id"`
	}
	decode(t, upload(t, srv, "clip.mp4", "v"), &created)

	body := `{"task_id":"` + created.TaskID + `","detection_method":"ocr"}`
	resp, err := http.Post(srv.URL+"/api/detect", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detect status = %d", resp.StatusCode)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + created.TaskID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// The scan is held open, so the first pushes must report processing
	for i := 0; i < 2; i++ {
		var snap task.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot %d: %v", i, err)
		}
		if snap.Status != "processing" || snap.TaskID != created.TaskID {
			t.Fatalf("snapshot %d = %+v", i, snap)
		}
	}
	close(release)

	var last task.Snapshot
	for {
		var snap task.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		last = snap
		if snap.Status != "processing" {
			break
		}
	}
	if last.Status != "uploaded" || last.Message == "" || last.Progress != 100 {
		t.Fatalf("final snapshot = %+v", last)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}
