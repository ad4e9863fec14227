package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/mailidx/internal/index"
)

// WorkerConfig tunes the background refresh worker.
type WorkerConfig struct {
	// RefreshInterval is the pause between refresh cycles. Values below
	// 100ms are clamped up to keep the loop from busy-spinning.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// RebuildOnStartup triggers a lifecycle rebuild before the first
	// cycle. Rebuild failures are logged but never block startup.
	RebuildOnStartup bool `yaml:"rebuild_on_startup"`
	// MaxDocsPerCycle bounds how many documents one cycle may process.
	MaxDocsPerCycle int `yaml:"max_docs_per_cycle"`
}

// DefaultWorkerConfig returns the production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		RefreshInterval:  time.Second,
		RebuildOnStartup: false,
		MaxDocsPerCycle:  1000,
	}
}

// minRefreshInterval is the floor for the cycle interval and the slice
// size used when sleeping, so shutdown stays responsive.
const minRefreshInterval = 100 * time.Millisecond

// RefreshWorker drives the runner on an interval from a dedicated
// goroutine. Errors in a cycle are logged and retried next cycle.
type RefreshWorker struct {
	config    WorkerConfig
	runner    *Runner
	lifecycle index.Lifecycle // optional startup-rebuild hook
	shutdown  atomic.Bool

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewRefreshWorker creates a refresh worker.
func NewRefreshWorker(config WorkerConfig, runner *Runner) *RefreshWorker {
	return &RefreshWorker{config: config, runner: runner}
}

// WithRebuildLifecycle attaches the lifecycle used for the optional
// startup rebuild.
func (w *RefreshWorker) WithRebuildLifecycle(lc index.Lifecycle) *RefreshWorker {
	w.lifecycle = lc
	return w
}

// Shutdown signals the worker to stop after the current cycle.
func (w *RefreshWorker) Shutdown() {
	w.shutdown.Store(true)
}

// Metrics returns the runner's metrics.
func (w *RefreshWorker) Metrics() *Metrics {
	return w.runner.Metrics()
}

// LastRefresh returns when the worker last processed documents.
func (w *RefreshWorker) LastRefresh() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRefresh, !w.lastRefresh.IsZero()
}

// Run executes the refresh loop until Shutdown is called or the context
// is canceled. It blocks and should run on its own goroutine.
func (w *RefreshWorker) Run(ctx context.Context) {
	interval := w.config.RefreshInterval
	if interval < minRefreshInterval {
		interval = minRefreshInterval
	}

	w.runStartupRebuild(ctx)

	for {
		if w.shutdown.Load() || ctx.Err() != nil {
			return
		}

		if w.RunCycle(ctx) > 0 {
			w.mu.Lock()
			w.lastRefresh = time.Now()
			w.mu.Unlock()
		}

		// Sleep in small slices so shutdown is prompt.
		remaining := interval
		for remaining > 0 {
			if w.shutdown.Load() || ctx.Err() != nil {
				return
			}
			chunk := remaining
			if chunk > minRefreshInterval {
				chunk = minRefreshInterval
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(chunk):
			}
			remaining -= chunk
		}
	}
}

// RunCycle processes pending work up to the per-cycle bound and returns
// the number of requests accounted for.
func (w *RefreshWorker) RunCycle(ctx context.Context) int {
	maxDocs := w.config.MaxDocsPerCycle
	if maxDocs < 1 {
		maxDocs = 1
	}

	processed := 0
	for w.runner.HasWork() && processed < maxDocs {
		remaining := maxDocs - processed
		if remaining < 1 {
			remaining = 1
		}

		result, err := w.runner.ProcessBatchLimit(ctx, remaining)
		if err != nil {
			// Next cycle retries; the queue still holds the work.
			slog.Warn("refresh_cycle_error", slog.String("error", err.Error()))
			break
		}
		total := result.Total()
		if total == 0 {
			break
		}
		processed += total
	}
	return processed
}

func (w *RefreshWorker) runStartupRebuild(ctx context.Context) {
	if !w.config.RebuildOnStartup || w.lifecycle == nil {
		return
	}
	if err := w.lifecycle.Rebuild(ctx); err != nil {
		slog.Warn("startup_rebuild_failed", slog.String("error", err.Error()))
	}
}
