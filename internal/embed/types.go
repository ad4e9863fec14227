// Package embed generates vector embeddings for canonicalized document
// text. Backends range from a hash-only fallback (no vectors, change
// detection only) to local static hashing, Ollama, and OpenAI-compatible
// HTTP APIs.
package embed

import (
	"context"
	"math"
	"time"
)

// ModelTier classifies embedding quality. The indexing pipeline persists
// vectors only for fast and quality tiers; hash-tier results carry a
// content hash but no usable vector.
type ModelTier string

const (
	TierHash    ModelTier = "hash"
	TierFast    ModelTier = "fast"
	TierQuality ModelTier = "quality"
)

// ModelInfo identifies the model behind an embedder.
type ModelInfo struct {
	ID         string
	Tier       ModelTier
	Dimensions int
}

// HashOnly reports whether results from this model carry no usable vector.
func (m ModelInfo) HashOnly() bool {
	return m.Tier == TierHash || m.Dimensions == 0
}

// Common embedding constants.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3
)

// Static embedder constants.
const (
	// StaticDimensions is the embedding dimension for the static embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result has
	// one entry per input, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Info returns the model identity and tier.
	Info() ModelInfo

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
