package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/mailidx/internal/document"
	merrors "github.com/Aman-CERP/mailidx/internal/errors"
)

// ReindexConfig tunes a full reindex.
type ReindexConfig struct {
	// BatchSize is the number of documents fetched per page from the
	// source.
	BatchSize int
	// WriteCheckpoint controls whether a checkpoint is written after
	// completion.
	WriteCheckpoint bool
}

// DefaultReindexConfig returns the production defaults.
func DefaultReindexConfig() ReindexConfig {
	return ReindexConfig{BatchSize: 500, WriteCheckpoint: true}
}

// ProgressFunc receives reindex progress. indexed counts documents
// fetched so far, total is the source count at start.
type ProgressFunc func(indexed, total int)

// ReindexStats summarizes a rebuild.
type ReindexStats struct {
	// DocsIndexed is the number of changes applied.
	DocsIndexed int `json:"docs_indexed"`
	// Warnings holds non-fatal problems hit along the way.
	Warnings []string `json:"warnings,omitempty"`
}

// ReindexResult is the outcome of a full reindex.
type ReindexResult struct {
	Stats ReindexStats `json:"stats"`
	// CheckpointWritten is false when checkpointing was disabled or the
	// write failed.
	CheckpointWritten bool `json:"checkpoint_written"`
	// ElapsedMS is the wall-clock time of the rebuild.
	ElapsedMS uint64 `json:"elapsed_ms"`
}

// Reindexer drives full rebuilds and check-then-repair runs for one
// scope. A file lock serializes rebuilds across processes and a
// singleflight group dedupes concurrent repair calls in-process.
type Reindexer struct {
	source    DocumentSource
	lifecycle Lifecycle
	layout    Layout
	scope     Scope
	schema    SchemaHash
	group     singleflight.Group
}

// NewReindexer creates a reindexer for one scope.
func NewReindexer(source DocumentSource, lifecycle Lifecycle, layout Layout, scope Scope) *Reindexer {
	return &Reindexer{
		source:    source,
		lifecycle: lifecycle,
		layout:    layout,
		scope:     scope,
		schema:    lifecycle.Schema(),
	}
}

// lockPath is the cross-process rebuild lock location for this scope.
func (r *Reindexer) lockPath() string {
	return filepath.Join(r.layout.ScopeDir(r.scope), ".reindex.lock")
}

// FullReindex drains all documents from the source into a freshly
// rebuilt index and writes a checkpoint. The source is paged so the
// corpus never sits in memory at once; a short page terminates the scan
// even if concurrent inserts have landed since it started.
func (r *Reindexer) FullReindex(ctx context.Context, cfg ReindexConfig, progress ProgressFunc) (*ReindexResult, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReindexConfig().BatchSize
	}
	if progress == nil {
		progress = func(int, int) {}
	}

	if err := os.MkdirAll(r.layout.ScopeDir(r.scope), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scope dir: %w", err)
	}
	lock := flock.New(r.lockPath())
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire reindex lock: %w", err)
	}
	if !acquired {
		return nil, merrors.New(merrors.ErrCodeReindexInProgress,
			fmt.Sprintf("reindex already in progress for scope %s", r.scope.DirName()), nil).
			WithSuggestion("wait for the running reindex to finish")
	}
	defer func() { _ = lock.Unlock() }()

	start := time.Now()
	startedTS := time.Now().UnixMicro()

	if err := r.layout.EnsureDirs(r.scope, r.schema); err != nil {
		return nil, err
	}

	total64, err := r.source.TotalCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count source documents: %w", err)
	}
	total := int(total64)
	progress(0, total)

	slog.Info("reindex_started",
		slog.String("scope", r.scope.DirName()),
		slog.String("schema", r.schema.Short()),
		slog.Int("total_docs", total))

	if err := r.lifecycle.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	var stats ReindexStats
	offset := 0
	var maxVersion int64

	for {
		batch, err := r.source.FetchBatch(ctx, cfg.BatchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch batch at offset %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}

		changes := make([]document.Change, 0, len(batch))
		for _, doc := range batch {
			if ts := doc.CreatedTS.UnixMicro(); ts > maxVersion {
				maxVersion = ts
			}
			changes = append(changes, document.Upsert(doc))
		}

		applied, err := r.lifecycle.UpdateIncremental(ctx, changes)
		if err != nil {
			return nil, fmt.Errorf("failed to apply batch at offset %d: %w", offset, err)
		}
		stats.DocsIndexed += applied

		offset += len(batch)
		progress(offset, total)

		if len(batch) < cfg.BatchSize {
			break
		}
	}

	checkpointWritten := false
	if cfg.WriteCheckpoint {
		completed := time.Now().UnixMicro()
		cp := Checkpoint{
			SchemaHash:  r.schema,
			DocsIndexed: stats.DocsIndexed,
			StartedTS:   startedTS,
			CompletedTS: &completed,
			MaxVersion:  maxVersion,
			Success:     true,
		}
		if err := cp.WriteTo(r.layout.LexicalDir(r.scope, r.schema)); err != nil {
			// A lost checkpoint only costs a redundant rebuild later.
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("Failed to write checkpoint: %v", err))
		} else {
			checkpointWritten = true
		}
	}

	result := &ReindexResult{
		Stats:             stats,
		CheckpointWritten: checkpointWritten,
		ElapsedMS:         uint64(time.Since(start).Milliseconds()),
	}

	slog.Info("reindex_done",
		slog.String("scope", r.scope.DirName()),
		slog.Int("docs_indexed", result.Stats.DocsIndexed),
		slog.Bool("checkpoint_written", result.CheckpointWritten),
		slog.Uint64("elapsed_ms", result.ElapsedMS))

	return result, nil
}

// RepairIfNeeded runs a consistency check and, when a rebuild is
// recommended, performs a full reindex with default settings.
// Concurrent calls for the same scope share one execution.
func (r *Reindexer) RepairIfNeeded(ctx context.Context) (*Report, *ReindexResult, error) {
	type repairOutcome struct {
		report *Report
		result *ReindexResult
	}

	v, err, _ := r.group.Do(r.scope.DirName(), func() (any, error) {
		checker := NewChecker(r.source, r.lifecycle, r.layout, r.scope)
		report, err := checker.Check(ctx, DefaultConsistencyConfig())
		if err != nil {
			return nil, err
		}

		if !report.RebuildRecommended {
			return repairOutcome{report: report}, nil
		}

		slog.Info("repair_rebuilding",
			slog.String("scope", r.scope.DirName()),
			slog.Int("errors", report.ErrorCount()))

		result, err := r.FullReindex(ctx, DefaultReindexConfig(), nil)
		if err != nil {
			return nil, err
		}
		return repairOutcome{report: report, result: result}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	outcome := v.(repairOutcome)
	return outcome.report, outcome.result, nil
}
