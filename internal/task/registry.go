package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/video-stream/subtitler/internal/db"
	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/logging"
)

// Patch is a partial task update. Nil fields are left unchanged.
type Patch struct {
	Status     *models.Status
	Progress   *float64
	Message    *string
	OutputPath *string
}

// Snapshot is the client-visible state of a task.
type Snapshot struct {
	TaskID     string        `json:"task_id"`
	Status     models.Status `json:"status"`
	Progress   float64       `json:"progress"`
	Message    string        `json:"message"`
	OutputPath string        `json:"output_path,omitempty"`
	Live       bool          `json:"live"`
}

// Registry is the single authority over task existence and status. Every
// mutation is committed to the store before the call returns.
type Registry struct {
	db        *db.Database
	uploadDir string
	logger    *slog.Logger

	mu      sync.RWMutex
	workers map[string]*engine.Handle
}

func NewRegistry(database *db.Database, uploadDir string, logger *slog.Logger) *Registry {
	return &Registry{
		db:        database,
		uploadDir: uploadDir,
		logger:    logging.Component(logger, "registry"),
		workers:   make(map[string]*engine.Handle),
	}
}

// Create stores src under the upload directory and records a new task for
// it. Byte-identical content already on file is reused and the new copy is
// discarded.
func (r *Registry) Create(ctx context.Context, id string, src io.Reader, name string) (*models.Task, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if id == "" || name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: task id and file name are required", ErrInvalidInput)
	}

	dir := filepath.Join(r.uploadDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	size, err := io.Copy(out, src)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write upload: %w", err)
	}

	file, dup, err := r.db.InternFile(ctx, dst, name)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("intern upload: %w", err)
	}
	if dup {
		os.Remove(dir)
	}

	t := &models.Task{
		ID:       id,
		FileHash: file.Hash,
		FilePath: file.Path,
		FileName: name,
		Status:   models.StatusUploaded,
		Message:  "uploaded",
	}
	if err := r.db.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	logging.Task(r.logger, id).Info("task created",
		"file", name, "size", humanize.Bytes(uint64(size)), "duplicate", dup)
	return t, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Task, error) {
	t, err := r.db.GetTask(ctx, id)
	if err != nil {
		return nil, mapStoreErr(id, err)
	}
	return t, nil
}

func (r *Registry) List(ctx context.Context, statuses ...models.Status) ([]models.Task, error) {
	return r.db.ListTasks(ctx, statuses...)
}

// Update applies p atomically. Status changes must follow the lifecycle and
// progress never decreases while a task stays in processing.
func (r *Registry) Update(ctx context.Context, id string, p Patch) (*models.Task, error) {
	t, err := r.db.UpdateTask(ctx, id, func(t *models.Task) error {
		return applyPatch(t, p)
	})
	if err != nil {
		return nil, mapStoreErr(id, err)
	}
	return t, nil
}

func applyPatch(t *models.Task, p Patch) error {
	from := t.Status
	if p.Status != nil {
		if !canTransition(from, *p.Status) {
			return transitionError(t.ID, from, *p.Status)
		}
		t.Status = *p.Status
	}
	if p.Progress != nil {
		v := clampPercent(*p.Progress)
		if !(from == models.StatusProcessing && t.Status == models.StatusProcessing && v < t.Progress) {
			t.Progress = v
		}
	}
	if p.Message != nil {
		t.Message = *p.Message
	}
	if p.OutputPath != nil {
		t.OutputPath = *p.OutputPath
	}
	return nil
}

// Begin moves a task into processing if its current status is one of
// allowed and no worker is still running for it. The check and the write
// happen in one transaction.
func (r *Registry) Begin(ctx context.Context, id string, allowed []models.Status, message string) (*models.Task, error) {
	if h, ok := r.Worker(id); ok && !h.IsDone() {
		return nil, fmt.Errorf("%w: task %s already has a running worker", ErrInvalidInput, id)
	}
	t, err := r.db.UpdateTask(ctx, id, func(t *models.Task) error {
		if !statusIn(t.Status, allowed) {
			return fmt.Errorf("%w: task %s is %s", ErrInvalidInput, id, t.Status)
		}
		if !canTransition(t.Status, models.StatusProcessing) {
			return transitionError(id, t.Status, models.StatusProcessing)
		}
		t.Status = models.StatusProcessing
		t.Progress = 0
		t.Message = message
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(id, err)
	}
	return t, nil
}

// RegisterWorker records the live handle for a task, replacing a finished one.
func (r *Registry) RegisterWorker(id string, h *engine.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[id] = h
}

// Worker returns the handle registered for id, if any.
func (r *Registry) Worker(id string) (*engine.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.workers[id]
	return h, ok
}

// releaseWorker drops h if it is still the registered handle for id.
func (r *Registry) releaseWorker(id string, h *engine.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.workers[id] == h {
		delete(r.workers, id)
	}
}

// Stats summarizes the registry for health reporting.
type Stats struct {
	Files   int `json:"files"`
	Workers int `json:"workers"`
}

// Stats pings the store and counts stored files and running workers.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	if err := r.db.Ping(ctx); err != nil {
		return Stats{}, fmt.Errorf("ping store: %w", err)
	}
	files, err := r.db.CountFiles(ctx)
	if err != nil {
		return Stats{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{Files: files}
	for _, h := range r.workers {
		if !h.IsDone() {
			st.Workers++
		}
	}
	return st, nil
}

// Snapshot reads live progress from a running worker, falling back to the
// last persisted state.
func (r *Registry) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		TaskID:     t.ID,
		Status:     t.Status,
		Progress:   t.Progress,
		Message:    t.Message,
		OutputPath: t.OutputPath,
	}
	if t.Status != models.StatusProcessing {
		return snap, nil
	}
	if h, ok := r.Worker(id); ok && !h.IsDone() {
		live := h.Poll()
		if live.Percent > snap.Progress {
			snap.Progress = live.Percent
		}
		if live.Message != "" {
			snap.Message = live.Message
		}
		snap.Live = true
	}
	return snap, nil
}

// Sweep deletes tasks created before now-age together with their artifacts,
// outputs and any source file no remaining task references. Tasks with a
// running worker are kept.
func (r *Registry) Sweep(ctx context.Context, age time.Duration) (int, error) {
	old, err := r.db.TasksOlderThan(ctx, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("list old tasks: %w", err)
	}

	ids := make([]string, 0, len(old))
	swept := make([]models.Task, 0, len(old))
	for _, t := range old {
		if h, ok := r.Worker(t.ID); ok && !h.IsDone() {
			continue
		}
		ids = append(ids, t.ID)
		swept = append(swept, t)
	}
	// Files go only once their rows are gone
	if _, err := r.db.DeleteTasks(ctx, ids...); err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	for _, t := range swept {
		r.removeTaskFiles(t)
		r.mu.Lock()
		delete(r.workers, t.ID)
		r.mu.Unlock()
	}

	orphans, err := r.db.DeleteOrphanFiles(ctx)
	if err != nil {
		return len(ids), fmt.Errorf("delete orphan files: %w", err)
	}
	for _, f := range orphans {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("remove source failed", "path", f.Path, "error", err)
		}
		os.Remove(filepath.Dir(f.Path))
	}
	if len(ids) > 0 {
		r.logger.Info("retention sweep", "tasks", len(ids), "files", len(orphans))
	}
	return len(ids), nil
}

func (r *Registry) removeTaskFiles(t models.Task) {
	if t.OutputPath != "" {
		os.Remove(t.OutputPath)
	}
	if t.FilePath != "" {
		matches, _ := filepath.Glob(filepath.Join(filepath.Dir(t.FilePath), t.ID+"_*"))
		for _, m := range matches {
			os.Remove(m)
		}
	}
	// Empty when the upload was a duplicate of another task's file
	os.Remove(filepath.Join(r.uploadDir, t.ID))
}

// RecoverInterrupted fails tasks left in processing by a previous process.
func (r *Registry) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := r.db.MarkInterrupted(ctx, "interrupted by server restart")
	if err == nil && n > 0 {
		r.logger.Warn("marked interrupted tasks as failed", "count", n)
	}
	return n, err
}

func mapStoreErr(id string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// Ptr returns a pointer to v, for building Patch values.
func Ptr[T any](v T) *T { return &v }
