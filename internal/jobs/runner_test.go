package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mailidx/internal/document"
	"github.com/Aman-CERP/mailidx/internal/embed"
	"github.com/Aman-CERP/mailidx/internal/index"
)

// failingEmbedder fails every batch to exercise retry triage.
type failingEmbedder struct {
	calls int
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embed backend down")
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	return nil, errors.New("embed backend down")
}

func (f *failingEmbedder) Info() embed.ModelInfo {
	return embed.ModelInfo{ID: "failing", Tier: embed.TierFast, Dimensions: 8}
}

func (f *failingEmbedder) Available(ctx context.Context) bool { return false }
func (f *failingEmbedder) Close() error                       { return nil }

// capturingPersister records SaveEmbedding calls.
type capturingPersister struct {
	saved []index.VectorMetadata
	err   error
}

func (p *capturingPersister) SaveEmbedding(ctx context.Context, meta index.VectorMetadata, vector []float32) error {
	if p.err != nil {
		return p.err
	}
	p.saved = append(p.saved, meta)
	return nil
}

func newTestRunner(t *testing.T, embedder embed.Embedder) (*Runner, *Queue, *index.VectorIndex) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 0
	q := NewQueueWithConfig(cfg)
	vi := index.NewVectorIndex(index.DefaultVectorConfig())
	return NewRunner(cfg, q, embedder, vi), q, vi
}

func TestRunnerEmptyQueue(t *testing.T) {
	r, _, _ := newTestRunner(t, embed.NewStaticEmbedder())

	result, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total())
	assert.Empty(t, result.Details)

	// No batch is recorded for an empty drain.
	assert.Equal(t, uint64(0), r.Metrics().Snapshot().TotalBatches)
}

func TestRunnerSuccess(t *testing.T) {
	r, q, vi := newTestRunner(t, embed.NewStaticEmbedder())

	require.True(t, q.Enqueue(NewRequest(1, document.KindMessage, 7, "deploy plan", "rolling deploy on tuesday")))
	require.True(t, q.Enqueue(NewRequest(2, document.KindThread, 7, "retro notes", "what went well")))

	result, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, vi.Count())

	meta, ok := vi.Get(document.Key{ID: 1, Kind: document.KindMessage})
	require.True(t, ok)
	assert.Equal(t, "static-fnv-256", meta.ModelID)
	assert.Equal(t, int64(7), int64(meta.ProjectID))
	assert.NotEmpty(t, meta.ContentHash)

	require.Len(t, result.Details, 2)
	for _, jr := range result.Details {
		assert.Equal(t, StatusSuccess, jr.Status)
		assert.Equal(t, embed.StaticDimensions, jr.Dimension)
	}

	snap := r.Metrics().Snapshot()
	assert.Equal(t, uint64(2), snap.TotalDocsEmbedded)
	assert.Equal(t, uint64(1), snap.TotalBatches)
}

func TestRunnerHashOnlySkipped(t *testing.T) {
	r, q, vi := newTestRunner(t, embed.NewHashEmbedder())

	require.True(t, q.Enqueue(NewRequest(1, document.KindMessage, 0, "title", "body")))

	result, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, vi.Count())

	require.Len(t, result.Details, 1)
	assert.Equal(t, StatusSkipped, result.Details[0].Status)
	assert.Equal(t, "hash-only embedding", result.Details[0].Reason)
}

func TestRunnerBatchFailureRetries(t *testing.T) {
	fe := &failingEmbedder{}
	r, q, _ := newTestRunner(t, fe)

	require.True(t, q.Enqueue(NewRequest(1, document.KindMessage, 0, "t", "b")))

	result, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retryable)
	require.Len(t, result.Details, 1)
	assert.Equal(t, StatusRetryable, result.Details[0].Status)
	assert.Equal(t, 1, result.Details[0].Retries)
	assert.Contains(t, result.Details[0].Error, "embed backend down")

	// The request went back on the retry queue.
	assert.Equal(t, 1, q.Stats().RetryCount)
}

func TestRunnerBatchFailureExhaustsRetries(t *testing.T) {
	fe := &failingEmbedder{}
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 0
	cfg.MaxRetries = 2
	q := NewQueueWithConfig(cfg)
	r := NewRunner(cfg, q, fe, index.NewVectorIndex(index.DefaultVectorConfig()))

	require.True(t, q.Enqueue(NewRequest(1, document.KindMessage, 0, "t", "b")))

	var last *BatchResult
	for i := 0; i < 3; i++ {
		result, err := r.ProcessBatch(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, result.Total())
		last = result
	}

	// Attempts 1 and 2 were retryable; the third is terminal.
	assert.Equal(t, 1, last.Failed)
	assert.Equal(t, StatusFailed, last.Details[0].Status)
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 3, fe.calls)
}

func TestRunnerBatchSizeClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	q := NewQueueWithConfig(cfg)
	r := NewRunner(cfg, q, embed.NewStaticEmbedder(), index.NewVectorIndex(index.DefaultVectorConfig()))

	for i := int64(1); i <= 10; i++ {
		require.True(t, q.Enqueue(msgRequest(i, "body")))
	}

	result, err := r.ProcessBatchLimit(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total())
	assert.Equal(t, 6, q.Len())

	// A non-positive limit still processes one request.
	result, err = r.ProcessBatchLimit(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total())
}

func TestRunnerPersister(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistToDB = true
	q := NewQueueWithConfig(cfg)
	p := &capturingPersister{}
	r := NewRunner(cfg, q, embed.NewStaticEmbedder(), index.NewVectorIndex(index.DefaultVectorConfig())).WithPersister(p)

	require.True(t, q.Enqueue(NewRequest(9, document.KindAgent, 3, "agent bio", "reviews pull requests")))

	result, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	require.Len(t, p.saved, 1)
	assert.Equal(t, document.DocID(9), p.saved[0].DocID)
	assert.Equal(t, document.KindAgent, p.saved[0].DocKind)
}

func TestRunnerPersisterFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistToDB = true
	q := NewQueueWithConfig(cfg)
	p := &capturingPersister{err: errors.New("disk full")}
	vi := index.NewVectorIndex(index.DefaultVectorConfig())
	r := NewRunner(cfg, q, embed.NewStaticEmbedder(), vi).WithPersister(p)

	require.True(t, q.Enqueue(NewRequest(1, document.KindMessage, 0, "t", "b")))

	result, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Details[0].Error, "disk full")
	// The index write landed before the store failure.
	assert.Equal(t, 1, vi.Count())
}

func TestRunnerPersistDisabledSkipsStore(t *testing.T) {
	r, q, _ := newTestRunner(t, embed.NewStaticEmbedder())
	p := &capturingPersister{}
	r.WithPersister(p)
	r.config.PersistToDB = false

	require.True(t, q.Enqueue(NewRequest(1, document.KindMessage, 0, "t", "b")))

	result, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Empty(t, p.saved)
}
