package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mailidx/internal/config"
	"github.com/Aman-CERP/mailidx/internal/document"
	"github.com/Aman-CERP/mailidx/internal/embed"
	"github.com/Aman-CERP/mailidx/internal/index"
	"github.com/Aman-CERP/mailidx/internal/jobs"
)

func newWorkerCmd() *cobra.Command {
	var (
		scopeFlag string
		backfill  bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background embedding worker",
		Long: `Run the refresh worker: drain the embedding queue on an interval,
apply vectors to the semantic index, and persist them to the store.
With --backfill, every stored document without a persisted embedding
is enqueued at startup. Stops cleanly on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeFlag)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runWorker(cmd, cfg, scope, backfill)
		},
	}

	cmd.Flags().StringVar(&scopeFlag, "scope", "global", "Index scope (global, project:N, product:N)")
	cmd.Flags().BoolVar(&backfill, "backfill", true, "Enqueue stored documents missing embeddings at startup")

	return cmd
}

func runWorker(cmd *cobra.Command, cfg *config.Config, scope index.Scope, backfill bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(cfg, scope)
	if err != nil {
		return err
	}
	defer eng.Close()

	embedder, err := embed.New(ctx, cfg.EmbedderConfig())
	if err != nil {
		return fmt.Errorf("failed to build embedder: %w", err)
	}
	defer embedder.Close()

	vectors := index.NewVectorIndex(index.DefaultVectorConfig())
	semanticDir := eng.layout.SemanticDir(scope, index.DefaultSchemaHash())
	if err := vectors.Load(semanticDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("vector_index_load_failed",
			slog.String("dir", semanticDir),
			slog.String("error", err.Error()))
	}

	queue := jobs.NewQueueWithConfig(cfg.Jobs)
	runner := jobs.NewRunner(cfg.Jobs, queue, embedder, vectors).WithPersister(eng.store)
	worker := jobs.NewRefreshWorker(cfg.Worker, runner).WithRebuildLifecycle(eng.lexical)

	if backfill {
		if err := enqueueBackfill(ctx, eng, queue); err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Worker running (scope %s, backend %s). Ctrl-C to stop.\n",
		scope.DirName(), embedder.Info().ID)

	worker.Run(ctx)

	if err := eng.layout.EnsureDirs(scope, index.DefaultSchemaHash()); err == nil {
		if err := vectors.Save(semanticDir); err != nil {
			slog.Warn("vector_index_save_failed", slog.String("error", err.Error()))
		}
	}

	snap := worker.Metrics().Snapshot()
	fmt.Fprintf(out, "Worker stopped: %d embedded, %d skipped, %d failed across %d batches.\n",
		snap.TotalSucceeded, snap.TotalSkipped, snap.TotalFailed, snap.TotalBatches)
	return nil
}

// enqueueBackfill queues every document in scope that has no persisted
// embedding yet.
func enqueueBackfill(ctx context.Context, eng *engine, queue *jobs.Queue) error {
	enqueued, skipped := 0, 0
	err := eng.store.FetchAllBatched(ctx, eng.cfg.Reindex.BatchSize, func(batch []document.Document) error {
		for _, doc := range batch {
			if eng.scope.ProjectID() != 0 && doc.ProjectID != eng.scope.ProjectID() {
				continue
			}
			_, _, ok, err := eng.store.GetEmbedding(ctx, document.Key{ID: doc.ID, Kind: doc.Kind})
			if err != nil {
				return err
			}
			if ok {
				skipped++
				continue
			}
			if queue.Enqueue(jobs.NewRequest(doc.ID, doc.Kind, doc.ProjectID, doc.Title, doc.Body)) {
				enqueued++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("backfill_enqueued",
		slog.Int("enqueued", enqueued),
		slog.Int("already_embedded", skipped))
	return nil
}
