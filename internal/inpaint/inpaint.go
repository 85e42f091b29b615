// Package inpaint runs the external subtitle removal tool.
package inpaint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/subtitle"
)

// Mode selects the inpainting model.
type Mode string

const (
	ModeSTTN       Mode = "sttn"
	ModeLaMa       Mode = "lama"
	ModePropainter Mode = "propainter"
)

// ParseMode accepts the known modes; empty selects sttn.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSTTN, nil
	case ModeSTTN, ModeLaMa, ModePropainter:
		return m, nil
	}
	return "", fmt.Errorf("unknown removal mode %q", s)
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// Runner removes subtitles from a video with the external inpainter.
type Runner struct {
	Binary        string
	Mode          Mode
	Area          *subtitle.Area
	SkipDetection bool
	Output        string
	Logger        *slog.Logger

	exec Executor
}

// WithExecutor replaces the process runner, mainly for tests.
func (r *Runner) WithExecutor(e Executor) *Runner {
	r.exec = e
	return r
}

func (r *Runner) Kind() engine.Kind { return engine.KindInpaint }

func (r *Runner) Run(ctx context.Context, job engine.Job, report engine.Reporter) (engine.Outcome[string], error) {
	if strings.TrimSpace(r.Binary) == "" {
		return engine.Outcome[string]{}, errors.New("subtitle removal tool is not configured")
	}
	logger := logging.Task(logging.Component(r.Logger, "inpaint"), job.TaskID)
	exe := r.exec
	if exe == nil {
		exe = commandExecutor{}
	}

	args := r.args(job.SourcePath)
	logger.Info("starting removal", "mode", r.Mode, "args", strings.Join(args, " "))
	report(0, fmt.Sprintf("removing subtitles (%s)", r.Mode))

	tail := newTail(5)
	err := exe.Run(ctx, r.Binary, args, func(line string) {
		if pct, ok := parseProgress(line); ok {
			report(pct, fmt.Sprintf("removing subtitles (%s) %.1f%%", r.Mode, pct))
			return
		}
		tail.add(line)
		logger.Debug("inpainter output", "line", line)
	})
	if err != nil {
		if ctx.Err() != nil {
			return engine.Outcome[string]{}, ctx.Err()
		}
		if t := tail.String(); t != "" {
			return engine.Outcome[string]{}, fmt.Errorf("%w: %s", err, t)
		}
		return engine.Outcome[string]{}, err
	}

	info, err := os.Stat(r.Output)
	if err != nil || info.Size() == 0 {
		return engine.Outcome[string]{}, fmt.Errorf("removal produced no output at %s", r.Output)
	}
	return engine.Ok(r.Output), nil
}

func (r *Runner) args(input string) []string {
	mode := r.Mode
	if mode == "" {
		mode = ModeSTTN
	}
	args := []string{"--input", input, "--output", r.Output, "--mode", string(mode)}
	if r.Area != nil {
		a := r.Area
		args = append(args, "--area", fmt.Sprintf("%d,%d,%d,%d", a[0], a[1], a[2], a[3]))
	}
	if r.SkipDetection {
		args = append(args, "--skip-detection")
	}
	return args
}

// parseProgress reads "progress: <percent>" lines.
func parseProgress(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(strings.ToLower(line), "progress:")
	if !ok {
		return 0, false
	}
	pct, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(rest), "%"), 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// tail keeps the last n output lines for error messages.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, " | ")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		scanErr error
		once    sync.Once
	)
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			mu.Lock()
			onLine(scanner.Text())
			mu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
