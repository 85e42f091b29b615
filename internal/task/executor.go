package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/logging"
)

const (
	awaitingConfirmation = "detection completed, awaiting confirmation"
	defaultFlushInterval = 500 * time.Millisecond
)

// Executor runs engines in the background and reports their outcome to the
// registry. Runs are detached from the request that started them.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecutor creates an executor that persists live progress every interval.
func NewExecutor(registry *Registry, logger *slog.Logger, interval time.Duration) *Executor {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		registry: registry,
		logger:   logging.Component(logger, "executor"),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// StartWork launches runner for a task that Begin has already moved into
// processing, and returns immediately.
func (e *Executor) StartWork(taskID string, runner engine.Runner, job engine.Job) *engine.Handle {
	job.TaskID = taskID
	h := engine.Start(e.ctx, runner, job)
	e.registry.RegisterWorker(taskID, h)

	e.wg.Add(1)
	go e.watch(taskID, h)
	logging.Task(e.logger, taskID).Info("worker started", logging.FieldEngine, h.Kind().String())
	return h
}

// Launch combines Begin and StartWork.
func (e *Executor) Launch(ctx context.Context, taskID string, allowed []models.Status, message string, runner engine.Runner, job engine.Job) (*engine.Handle, error) {
	if _, err := e.registry.Begin(ctx, taskID, allowed, message); err != nil {
		return nil, err
	}
	return e.StartWork(taskID, runner, job), nil
}

func (e *Executor) watch(taskID string, h *engine.Handle) {
	defer e.wg.Done()
	defer e.registry.releaseWorker(taskID, h)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var last engine.Progress
	for {
		select {
		case <-h.Done():
			e.finish(taskID, h)
			return
		case <-ticker.C:
			snap := h.Poll()
			if snap.State != engine.StateRunning || snap == last {
				continue
			}
			last = snap
			if _, err := e.registry.Update(context.Background(), taskID, Patch{
				Progress: Ptr(snap.Percent),
				Message:  Ptr(snap.Message),
			}); err != nil {
				logging.Task(e.logger, taskID).Warn("persist progress failed", "error", err)
			}
		}
	}
}

// finish records the single terminal update for a run.
func (e *Executor) finish(taskID string, h *engine.Handle) {
	logger := logging.Task(e.logger, taskID).With(logging.FieldEngine, h.Kind().String())
	out, err := h.Wait()

	var p Patch
	switch {
	case err != nil:
		msg := err.Error()
		if errors.Is(err, engine.ErrCancelled) {
			msg = "cancelled"
		}
		if msg == "" {
			msg = fmt.Sprintf("%s engine failed", h.Kind())
		}
		p = Patch{Status: Ptr(models.StatusError), Message: Ptr(msg)}
		logger.Error("worker failed", "error", msg)
	case h.Kind().IsDetection():
		msg := awaitingConfirmation
		if out.IsDegraded() {
			msg += " (" + out.Summary() + ")"
		}
		p = Patch{Status: Ptr(models.StatusUploaded), Progress: Ptr(100.0), Message: Ptr(msg)}
		logger.Info("detection finished", "artifact", out.Value, "degraded", out.IsDegraded())
	default:
		msg := "completed"
		if out.IsDegraded() {
			msg = out.Summary()
		}
		p = Patch{
			Status:     Ptr(models.StatusCompleted),
			Progress:   Ptr(100.0),
			Message:    Ptr(msg),
			OutputPath: Ptr(out.Value),
		}
		logger.Info("worker completed", "output", out.Value, "degraded", out.IsDegraded())
	}

	if _, err := e.registry.Update(context.Background(), taskID, p); err != nil {
		logger.Error("persist final state failed", "error", err)
	}
}

// Cancel stops the running worker of a task. The task ends in error with
// message "cancelled" once the engine returns.
func (e *Executor) Cancel(taskID string) error {
	h, ok := e.registry.Worker(taskID)
	if !ok || h.IsDone() {
		return fmt.Errorf("%w: task %s has no running worker", ErrInvalidInput, taskID)
	}
	h.Cancel()
	return nil
}

// Shutdown cancels every run and waits for their final updates, or for ctx.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every started run has recorded its final state.
func (e *Executor) Wait() {
	e.wg.Wait()
}
