// Package engine defines the contract shared by every long-running processing
// engine. An engine is started once per task run; the caller then polls its
// Handle uniformly regardless of what the engine does.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// Kind selects an engine variant. It is fixed when a run starts.
type Kind int

const (
	KindOCR Kind = iota + 1
	KindSpeech
	KindTranslate
	KindInpaint
)

func (k Kind) String() string {
	switch k {
	case KindOCR:
		return "ocr"
	case KindSpeech:
		return "speech"
	case KindTranslate:
		return "translate"
	case KindInpaint:
		return "inpaint"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsDetection reports whether runs of this kind end in the awaiting
// confirmation state rather than completing the task.
func (k Kind) IsDetection() bool {
	return k == KindOCR || k == KindSpeech
}

// State of a single engine run.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Progress is a point-in-time snapshot of a run.
type Progress struct {
	State   State   `json:"state"`
	Percent float64 `json:"progress"`
	Message string  `json:"message"`
}

// Job identifies the input of one run. Engine specific parameters are carried
// by the Runner itself.
type Job struct {
	TaskID     string
	SourcePath string
	WorkDir    string
}

// Reporter receives progress from a running engine. Percent is clamped to
// [0, 100] and never moves backwards within a run.
type Reporter func(percent float64, message string)

// Runner is implemented by every engine variant.
type Runner interface {
	Kind() Kind
	Run(ctx context.Context, job Job, report Reporter) (Outcome[string], error)
}

// ErrCancelled is returned by Wait for runs stopped through Cancel.
var ErrCancelled = errors.New("cancelled")

// Handle tracks one engine run.
type Handle struct {
	kind   Kind
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	snap   Progress
	result Outcome[string]
	err    error
}

// Start launches runner on its own goroutine. The run is detached from the
// caller: only ctx values and cancellation flow into it.
func Start(ctx context.Context, runner Runner, job Job) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		kind:   runner.Kind(),
		cancel: cancel,
		done:   make(chan struct{}),
		snap:   Progress{State: StateRunning},
	}
	go h.run(runCtx, runner, job)
	return h
}

func (h *Handle) run(ctx context.Context, runner Runner, job Job) {
	defer close(h.done)
	defer h.cancel()

	var (
		out Outcome[string]
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s engine panic: %v\n%s", h.kind, r, debug.Stack())
			}
		}()
		out, err = runner.Run(ctx, job, h.report)
	}()
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = ErrCancelled
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.result, h.err = out, err
	if err != nil {
		h.snap.State = StateFailed
		h.snap.Message = err.Error()
		return
	}
	h.snap.State = StateSucceeded
	h.snap.Percent = 100
	if msg := out.Summary(); msg != "" {
		h.snap.Message = msg
	}
}

func (h *Handle) report(percent float64, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snap.State != StateRunning {
		return
	}
	if percent > h.snap.Percent {
		h.snap.Percent = percent
	}
	if message != "" {
		h.snap.Message = message
	}
}

func (h *Handle) Kind() Kind { return h.kind }

// Poll returns the latest progress snapshot.
func (h *Handle) Poll() Progress {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Done is closed once the run has finished and its result is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the run finishes and returns its outcome.
func (h *Handle) Wait() (Outcome[string], error) {
	<-h.done
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result, h.err
}

// Cancel asks the run to stop. Engines observe it at their next frame or
// request boundary.
func (h *Handle) Cancel() { h.cancel() }
