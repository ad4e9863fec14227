package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/mailidx/internal/canonical"
	"github.com/Aman-CERP/mailidx/internal/document"
	"github.com/Aman-CERP/mailidx/internal/embed"
	"github.com/Aman-CERP/mailidx/internal/index"
)

// JobStatus classifies the outcome of one embedding request.
type JobStatus string

const (
	StatusSuccess   JobStatus = "success"
	StatusRetryable JobStatus = "retryable"
	StatusFailed    JobStatus = "failed"
	StatusSkipped   JobStatus = "skipped"
)

// JobResult is the outcome of processing a single request.
type JobResult struct {
	DocID   document.DocID
	DocKind document.DocKind
	Status  JobStatus

	// Set on success.
	ModelID     string
	ContentHash string
	Dimension   int

	// Set on retryable and failed outcomes.
	Error string
	// Retries is the attempt count after this failure (retryable only).
	Retries int

	// Reason is set on skipped outcomes.
	Reason string
}

// BatchResult aggregates one processed batch.
type BatchResult struct {
	Succeeded int
	Retryable int
	Failed    int
	Skipped   int
	Elapsed   time.Duration
	Details   []JobResult
}

// Total is the number of requests accounted for in this batch.
func (b *BatchResult) Total() int {
	return b.Succeeded + b.Retryable + b.Failed + b.Skipped
}

// EmbeddingPersister writes successful embeddings to the primary store
// so they survive index rebuilds.
type EmbeddingPersister interface {
	SaveEmbedding(ctx context.Context, meta index.VectorMetadata, vector []float32) error
}

// Runner drains the queue in batches, embeds the canonicalized text,
// and applies the vectors to the index.
type Runner struct {
	config    Config
	queue     *Queue
	embedder  embed.Embedder
	index     *index.VectorIndex
	persister EmbeddingPersister // nil disables DB persistence
	metrics   *Metrics
}

// NewRunner creates a job runner.
func NewRunner(config Config, queue *Queue, embedder embed.Embedder, vectorIndex *index.VectorIndex) *Runner {
	return &Runner{
		config:   config,
		queue:    queue,
		embedder: embedder,
		index:    vectorIndex,
		metrics:  NewMetrics(),
	}
}

// WithPersister attaches a store writer for successful embeddings. It
// is only consulted when the config enables persistence.
func (r *Runner) WithPersister(p EmbeddingPersister) *Runner {
	r.persister = p
	return r
}

// Metrics returns the runner's shared metrics.
func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// HasWork reports whether the queue holds any requests.
func (r *Runner) HasWork() bool {
	return !r.queue.IsEmpty()
}

// ProcessBatch processes one full-size batch.
func (r *Runner) ProcessBatch(ctx context.Context) (*BatchResult, error) {
	return r.ProcessBatchLimit(ctx, r.config.BatchSize)
}

// ProcessBatchLimit processes at most batchSize requests, additionally
// capped by the configured batch size. The refresh worker uses this to
// enforce per-cycle bounds.
//
// A whole-batch embed failure is not an error: every request is triaged
// into retryable or failed and the result returned normally.
func (r *Runner) ProcessBatchLimit(ctx context.Context, batchSize int) (*BatchResult, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > r.config.BatchSize {
		batchSize = r.config.BatchSize
	}

	batch := r.queue.DrainBatch(batchSize)
	if len(batch) == 0 {
		return &BatchResult{}, nil
	}

	start := time.Now()
	result := &BatchResult{}

	texts := make([]string, len(batch))
	hashes := make([]string, len(batch))
	for i, req := range batch {
		texts[i], hashes[i] = canonical.CanonicalizeAndHash(req.DocKind, req.Title, req.Body, r.config.CanonPolicy)
	}

	embedCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	vectors, err := r.embedder.EmbedBatch(embedCtx, texts)
	if err != nil {
		r.triageBatchFailure(batch, err, result)
		result.Elapsed = time.Since(start)
		r.metrics.RecordBatch(result)
		return result, nil
	}

	info := r.embedder.Info()
	for i, req := range batch {
		jr := r.applySingle(ctx, req, info, hashes[i], vectors[i])
		switch jr.Status {
		case StatusSuccess:
			result.Succeeded++
		case StatusRetryable:
			result.Retryable++
		case StatusFailed:
			result.Failed++
		case StatusSkipped:
			result.Skipped++
		}
		result.Details = append(result.Details, jr)
	}

	result.Elapsed = time.Since(start)
	r.metrics.RecordBatch(result)

	slog.Debug("embed_batch_done",
		slog.Int("size", len(batch)),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("retryable", result.Retryable),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Duration("elapsed", result.Elapsed))

	return result, nil
}

// triageBatchFailure requeues what can still be retried and marks the
// rest permanently failed.
func (r *Runner) triageBatchFailure(batch []Request, err error, result *BatchResult) {
	slog.Warn("embed_batch_failed",
		slog.Int("size", len(batch)),
		slog.String("error", err.Error()))

	for _, req := range batch {
		if req.Retries < r.config.MaxRetries {
			r.queue.EnqueueRetry(req)
			result.Retryable++
			result.Details = append(result.Details, JobResult{
				DocID:   req.DocID,
				DocKind: req.DocKind,
				Status:  StatusRetryable,
				Error:   err.Error(),
				Retries: req.Retries + 1,
			})
		} else {
			result.Failed++
			result.Details = append(result.Details, JobResult{
				DocID:   req.DocID,
				DocKind: req.DocKind,
				Status:  StatusFailed,
				Error:   err.Error(),
			})
		}
	}
}

// applySingle writes one embedding into the vector index and optionally
// the primary store.
func (r *Runner) applySingle(ctx context.Context, req Request, info embed.ModelInfo, contentHash string, vector []float32) JobResult {
	// Hash-only results carry no vector worth indexing.
	if info.HashOnly() || len(vector) == 0 {
		return JobResult{
			DocID:   req.DocID,
			DocKind: req.DocKind,
			Status:  StatusSkipped,
			Reason:  "hash-only embedding",
		}
	}

	meta := index.VectorMetadata{
		DocID:       req.DocID,
		DocKind:     req.DocKind,
		ProjectID:   req.ProjectID,
		ModelID:     info.ID,
		ContentHash: contentHash,
	}

	if err := r.index.Upsert(meta, vector); err != nil {
		return JobResult{
			DocID:   req.DocID,
			DocKind: req.DocKind,
			Status:  StatusFailed,
			Error:   err.Error(),
		}
	}

	if r.config.PersistToDB && r.persister != nil {
		if err := r.persister.SaveEmbedding(ctx, meta, vector); err != nil {
			// The index write already landed; surface the store failure.
			return JobResult{
				DocID:   req.DocID,
				DocKind: req.DocKind,
				Status:  StatusFailed,
				Error:   err.Error(),
			}
		}
	}

	return JobResult{
		DocID:       req.DocID,
		DocKind:     req.DocKind,
		Status:      StatusSuccess,
		ModelID:     info.ID,
		ContentHash: contentHash,
		Dimension:   len(vector),
	}
}
