package task_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/task"
)

type stubRunner struct {
	kind engine.Kind
	run  func(ctx context.Context, job engine.Job, report engine.Reporter) (engine.Outcome[string], error)
}

func (s stubRunner) Kind() engine.Kind { return s.kind }

func (s stubRunner) Run(ctx context.Context, job engine.Job, report engine.Reporter) (engine.Outcome[string], error) {
	return s.run(ctx, job, report)
}

func succeed(kind engine.Kind, output string) stubRunner {
	return stubRunner{kind: kind, run: func(_ context.Context, _ engine.Job, report engine.Reporter) (engine.Outcome[string], error) {
		report(50, "halfway")
		return engine.Ok(output), nil
	}}
}

func newExecutor(t *testing.T) (*task.Registry, *task.Executor) {
	t.Helper()
	reg, _ := newRegistry(t)
	exec := task.NewExecutor(reg, logging.NewNop(), 5*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		exec.Shutdown(ctx)
	})
	if _, err := reg.Create(context.Background(), "t1", strings.NewReader("video"), "v.mp4"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return reg, exec
}

func TestDetectionSuccessReturnsToUploaded(t *testing.T) {
	reg, exec := newExecutor(t)
	ctx := context.Background()

	if _, err := exec.Launch(ctx, "t1", task.DetectFrom, "detecting", succeed(engine.KindOCR, "/tmp/t1_detected.json"), engine.Job{}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	exec.Wait()

	got, err := reg.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusUploaded {
		t.Fatalf("status = %s, want uploaded", got.Status)
	}
	if !strings.Contains(got.Message, "awaiting confirmation") {
		t.Fatalf("message = %q", got.Message)
	}
	if _, ok := reg.Worker("t1"); ok {
		t.Fatal("finished worker should be released")
	}
}

func TestTransformRerunFromCompleted(t *testing.T) {
	reg, exec := newExecutor(t)
	ctx := context.Background()

	if _, err := exec.Launch(ctx, "t1", task.TransformFrom, "translating", succeed(engine.KindTranslate, "/out/first.mp4"), engine.Job{}); err != nil {
		t.Fatalf("Launch first: %v", err)
	}
	exec.Wait()
	first, _ := reg.Get(ctx, "t1")
	if first.Status != models.StatusCompleted || first.OutputPath != "/out/first.mp4" {
		t.Fatalf("after first run: %+v", first)
	}

	if _, err := exec.Launch(ctx, "t1", task.TransformFrom, "translating", succeed(engine.KindTranslate, "/out/second.mp4"), engine.Job{}); err != nil {
		t.Fatalf("Launch second: %v", err)
	}
	exec.Wait()
	second, _ := reg.Get(ctx, "t1")
	if second.Status != models.StatusCompleted || second.OutputPath != "/out/second.mp4" {
		t.Fatalf("after second run: %+v", second)
	}
}

func TestWorkerFailureSetsErrorWithMessage(t *testing.T) {
	reg, exec := newExecutor(t)
	ctx := context.Background()
	failing := stubRunner{kind: engine.KindInpaint, run: func(context.Context, engine.Job, engine.Reporter) (engine.Outcome[string], error) {
		return engine.Outcome[string]{}, errors.New("inpainter exited with status 1")
	}}

	if _, err := exec.Launch(ctx, "t1", task.TransformFrom, "removing", failing, engine.Job{}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	exec.Wait()

	got, _ := reg.Get(ctx, "t1")
	if got.Status != models.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.Message != "inpainter exited with status 1" {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestStartWhileProcessingIsRejected(t *testing.T) {
	reg, exec := newExecutor(t)
	ctx := context.Background()
	release := make(chan struct{})
	blocking := stubRunner{kind: engine.KindTranslate, run: func(context.Context, engine.Job, engine.Reporter) (engine.Outcome[string], error) {
		<-release
		return engine.Ok("/out/x.mp4"), nil
	}}

	if _, err := exec.Launch(ctx, "t1", task.TransformFrom, "translating", blocking, engine.Job{}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := exec.Launch(ctx, "t1", task.TransformFrom, "translating", succeed(engine.KindTranslate, "/out/y.mp4"), engine.Job{}); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("second Launch err = %v, want ErrInvalidInput", err)
	}

	snap, err := reg.Snapshot(ctx, "t1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != models.StatusProcessing || !snap.Live {
		t.Fatalf("snapshot = %+v, want live processing", snap)
	}

	close(release)
	exec.Wait()
	got, _ := reg.Get(ctx, "t1")
	if got.OutputPath != "/out/x.mp4" {
		t.Fatalf("output = %q", got.OutputPath)
	}
}

func TestCancelEndsInError(t *testing.T) {
	reg, exec := newExecutor(t)
	ctx := context.Background()
	started := make(chan struct{})
	waiting := stubRunner{kind: engine.KindSpeech, run: func(ctx context.Context, _ engine.Job, _ engine.Reporter) (engine.Outcome[string], error) {
		close(started)
		<-ctx.Done()
		return engine.Outcome[string]{}, ctx.Err()
	}}

	if _, err := exec.Launch(ctx, "t1", task.DetectFrom, "detecting", waiting, engine.Job{}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	<-started
	if err := exec.Cancel("t1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	exec.Wait()

	got, _ := reg.Get(ctx, "t1")
	if got.Status != models.StatusError || got.Message != "cancelled" {
		t.Fatalf("after cancel: %+v", got)
	}
	if err := exec.Cancel("t1"); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("second Cancel err = %v, want ErrInvalidInput", err)
	}
}
