package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/video-stream/subtitler/internal/engine"
	"github.com/video-stream/subtitler/internal/logging"
)

const (
	// DefaultBudget is the character budget of one batch.
	DefaultBudget = 2000
	concurrency   = 3
)

// Batch groups items greedily so that the character count of each batch
// stays within budget. An item longer than budget forms its own batch.
func Batch(items []Item, budget int) [][]Item {
	if budget <= 0 {
		budget = DefaultBudget
	}
	var (
		batches [][]Item
		current []Item
		size    int
	)
	for _, it := range items {
		n := utf8.RuneCountInString(it.Text)
		if len(current) > 0 && size+n > budget {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, it)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// Batcher drives an Endpoint over budget-sized batches.
type Batcher struct {
	endpoint Endpoint
	budget   int
	logger   *slog.Logger
}

func NewBatcher(endpoint Endpoint, budget int, logger *slog.Logger) *Batcher {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Batcher{
		endpoint: endpoint,
		budget:   budget,
		logger:   logging.Component(logger, "translate").With(logging.FieldEngine, endpoint.Name()),
	}
}

// Translate returns one translated string per item, in input order. Endpoint
// failures never fail the call: the affected batch keeps its original text
// and the reason is recorded on the outcome. The error is non-nil only when
// ctx is cancelled.
func (b *Batcher) Translate(ctx context.Context, items []Item, opts Options, progress func(done, total int)) (engine.Outcome[[]string], error) {
	batches := Batch(items, b.budget)
	out := make([]string, len(items))
	if len(batches) == 0 {
		return engine.Ok(out), nil
	}

	b.logger.Info("translating",
		"items", len(items),
		"batches", len(batches),
		"target", opts.TargetLang,
		"preset", opts.Preset,
	)

	reasons := make([]string, len(batches))
	offsets := make([]int, len(batches))
	for i := 1; i < len(batches); i++ {
		offsets[i] = offsets[i-1] + len(batches[i-1])
	}

	var (
		wg        sync.WaitGroup
		completed atomic.Int32
	)
	sem := make(chan struct{}, concurrency)

loop:
	for idx, batch := range batches {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
		wg.Add(1)
		go func(idx int, batch []Item) {
			defer wg.Done()
			defer func() { <-sem }()

			translated, err := b.translateBatch(ctx, batch, opts)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("batch failed, keeping original text",
						"batch", idx+1, "items", len(batch), "error", err)
					reasons[idx] = fmt.Sprintf("batch %d: %v", idx+1, err)
				}
			}
			missing := 0
			for i, it := range batch {
				t, ok := translated[it.ID]
				if !ok || strings.TrimSpace(t) == "" {
					t = it.Text
					if err == nil {
						missing++
					}
				}
				out[offsets[idx]+i] = t
			}
			if missing > 0 {
				b.logger.Warn("translations missing, kept original text",
					"batch", idx+1, "missing", missing, "items", len(batch))
			}

			done := int(completed.Add(1))
			if progress != nil {
				progress(done, len(batches))
			}
		}(idx, batch)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return engine.Outcome[[]string]{}, err
	}

	outcome := engine.Ok(out)
	failed := 0
	for _, r := range reasons {
		if r != "" {
			failed++
		}
	}
	if failed > 0 {
		outcome = outcome.With(fmt.Sprintf("%d of %d translation batches kept original text (%s)",
			failed, len(batches), firstNonEmpty(reasons)))
	}
	return outcome, nil
}

// translateBatch calls the endpoint, retrying once on transient errors.
func (b *Batcher) translateBatch(ctx context.Context, batch []Item, opts Options) (map[string]string, error) {
	translated, err := b.endpoint.TranslateBatch(ctx, batch, opts)
	if err != nil && isTransientError(err) && ctx.Err() == nil {
		b.logger.Info("batch failed, retrying", "error", err)
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		translated, err = b.endpoint.TranslateBatch(ctx, batch, opts)
	}
	return translated, err
}

var retryDelay = 2 * time.Second

func isTransientError(err error) bool {
	msg := err.Error()
	for _, s := range []string{"status 429", "status 500", "status 502", "status 503", "status 504",
		"connection reset", "connection refused", "timeout", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func firstNonEmpty(ss []string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
