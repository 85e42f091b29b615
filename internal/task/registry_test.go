package task_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/video-stream/subtitler/internal/db"
	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/task"
)

func newRegistry(t *testing.T) (*task.Registry, *db.Database) {
	t.Helper()
	dir := t.TempDir()
	database, err := db.NewSQLite(filepath.Join(dir, "tasks.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return task.NewRegistry(database, filepath.Join(dir, "uploads"), logging.NewNop()), database
}

func TestCreateDeduplicatesIdenticalUploads(t *testing.T) {
	reg, database := newRegistry(t)
	ctx := context.Background()

	a, err := reg.Create(ctx, "task-a", strings.NewReader("identical video bytes"), "first.mp4")
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := reg.Create(ctx, "task-b", strings.NewReader("identical video bytes"), "second.mp4")
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}

	if a.ID == b.ID {
		t.Fatal("expected distinct task ids")
	}
	if a.FileHash != b.FileHash {
		t.Fatalf("tasks reference different files: %s vs %s", a.FileHash, b.FileHash)
	}
	if b.FilePath != a.FilePath {
		t.Fatalf("duplicate should reuse %s, got %s", a.FilePath, b.FilePath)
	}
	n, err := database.CountFiles(ctx)
	if err != nil {
		t.Fatalf("CountFiles: %v", err)
	}
	if n != 1 {
		t.Fatalf("files = %d, want 1", n)
	}

	got, err := reg.Get(ctx, "task-b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusUploaded {
		t.Fatalf("status = %s, want uploaded", got.Status)
	}
}

func TestGetUnknownTask(t *testing.T) {
	reg, _ := newRegistry(t)
	if _, err := reg.Get(context.Background(), "nope"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := reg.Update(context.Background(), "nope", task.Patch{Message: task.Ptr("x")}); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("update err = %v, want ErrNotFound", err)
	}
}

func TestBeginEnforcesPreconditions(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	if _, err := reg.Create(ctx, "t1", strings.NewReader("v"), "v.mp4"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := reg.Begin(ctx, "t1", task.DetectFrom, "detecting"); err != nil {
		t.Fatalf("Begin detect: %v", err)
	}
	if _, err := reg.Begin(ctx, "t1", task.TransformFrom, "translating"); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("Begin on processing task err = %v, want ErrInvalidInput", err)
	}

	if _, err := reg.Update(ctx, "t1", task.Patch{Status: task.Ptr(models.StatusError), Message: task.Ptr("boom")}); err != nil {
		t.Fatalf("Update to error: %v", err)
	}
	if _, err := reg.Update(ctx, "t1", task.Patch{Status: task.Ptr(models.StatusProcessing)}); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("error -> processing err = %v, want ErrInvalidInput", err)
	}
	if _, err := reg.Begin(ctx, "t1", task.TransformFrom, "again"); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("Begin on error task err = %v, want ErrInvalidInput", err)
	}
}

func TestSweepRemovesOldTasksAndOrphans(t *testing.T) {
	reg, database := newRegistry(t)
	ctx := context.Background()
	if _, err := reg.Create(ctx, "old", strings.NewReader("bytes"), "clip.mp4"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := reg.Sweep(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
	if _, err := reg.Get(ctx, "old"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("swept task still present: %v", err)
	}
	files, _ := database.CountFiles(ctx)
	if files != 0 {
		t.Fatalf("files = %d, want 0", files)
	}
}

func TestSweepKeepsFilesWhenRowsSurvive(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tasks.db")
	database, err := db.NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	reg := task.NewRegistry(database, filepath.Join(dir, "uploads"), logging.NewNop())

	ctx := context.Background()
	created, err := reg.Create(ctx, "old", strings.NewReader("bytes"), "clip.mp4")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	artifact := filepath.Join(filepath.Dir(created.FilePath), "old_detected.json")
	if err := os.WriteFile(artifact, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A second connection pins the rows so the delete fails
	raw, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`CREATE TRIGGER pin_tasks BEFORE DELETE ON tasks BEGIN SELECT RAISE(ABORT, 'pinned'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if _, err := reg.Sweep(ctx, -time.Minute); err == nil {
		t.Fatal("expected sweep to fail while rows are pinned")
	}
	if _, err := reg.Get(ctx, "old"); err != nil {
		t.Fatalf("task should survive a failed sweep: %v", err)
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Fatalf("artifact removed although its row survived: %v", err)
	}

	if _, err := raw.Exec(`DROP TRIGGER pin_tasks`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if n, err := reg.Sweep(ctx, -time.Minute); err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Fatalf("artifact should be gone after the rows are deleted: %v", err)
	}
}
