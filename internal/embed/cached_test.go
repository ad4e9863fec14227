package embed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts model calls.
type countingEmbedder struct {
	inner      *StaticEmbedder
	mu         sync.Mutex
	embedCalls int
	batchCalls int
	batchSizes []int
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: NewStaticEmbedder()}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.embedCalls++
	c.mu.Unlock()
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batchCalls++
	c.batchSizes = append(c.batchSizes, len(texts))
	c.mu.Unlock()
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Info() ModelInfo                     { return c.inner.Info() }
func (c *countingEmbedder) Available(ctx context.Context) bool  { return c.inner.Available(ctx) }
func (c *countingEmbedder) Close() error                        { return c.inner.Close() }

func TestCachedEmbedderHit(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 16)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	v1, err := cached.Embed(ctx, "repeat me")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "repeat me")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, counting.embedCalls)
}

func TestCachedEmbedderBatchPartialWarm(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 16)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.NotNil(t, v, "missing vector at %d", i)
	}

	// Only the two cold texts hit the model.
	require.Len(t, counting.batchSizes, 1)
	assert.Equal(t, 2, counting.batchSizes[0])
}

func TestCachedEmbedderAllWarm(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 16)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	texts := []string{"x", "y"}
	_, err := cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	_, err = cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	assert.Equal(t, 1, counting.batchCalls)
}

func TestCachedEmbedderPassthrough(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 0)

	assert.Equal(t, counting.Info(), cached.Info())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, Embedder(counting), cached.Inner())
	require.NoError(t, cached.Close())
}
