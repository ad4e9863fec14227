package embed

import (
	"context"
	"fmt"
	"sync"
)

// HashEmbedder is the tier-of-last-resort backend used when no embedding
// model is configured or reachable. It produces no vectors at all; the
// pipeline still records content hashes for change detection, and index
// writes are skipped downstream.
type HashEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// NewHashEmbedder creates a hash-only embedder.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

// Embed returns an empty vector. The caller is expected to treat
// hash-tier results as non-indexable.
func (e *HashEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	return nil, nil
}

// EmbedBatch returns one empty vector per input.
func (e *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	return make([][]float32, len(texts)), nil
}

// Info returns the hash-tier model identity.
func (e *HashEmbedder) Info() ModelInfo {
	return ModelInfo{ID: "hash-v1", Tier: TierHash, Dimensions: 0}
}

// Available reports readiness (always true until closed).
func (e *HashEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *HashEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ Embedder = (*HashEmbedder)(nil)
