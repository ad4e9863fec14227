package embed

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend selects the embedding implementation.
type Backend string

const (
	BackendHash   Backend = "hash"
	BackendStatic Backend = "static"
	BackendOllama Backend = "ollama"
	BackendOpenAI Backend = "openai"
)

// Config selects and configures an embedding backend.
type Config struct {
	Backend   Backend
	CacheSize int
	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
}

// DefaultConfig returns the zero-dependency default: static embeddings
// with an LRU cache in front.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendStatic,
		CacheSize: DefaultEmbeddingCacheSize,
		Ollama:    DefaultOllamaConfig(),
	}
}

// New builds the configured embedder. Network-backed backends degrade to
// the static embedder when unreachable rather than failing startup; the
// hash backend is never silently substituted because its results are not
// indexable.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	inner, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if inner.Info().HashOnly() {
		// Caching hashes buys nothing.
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

func newBackend(ctx context.Context, cfg Config) (Embedder, error) {
	switch cfg.Backend {
	case BackendHash:
		return NewHashEmbedder(), nil
	case BackendStatic, "":
		return NewStaticEmbedder(), nil
	case BackendOllama:
		e, err := NewOllamaEmbedder(ctx, cfg.Ollama)
		if err != nil {
			slog.Warn("embedder_fallback",
				slog.String("backend", string(BackendOllama)),
				slog.String("fallback", string(BackendStatic)),
				slog.String("error", err.Error()))
			return NewStaticEmbedder(), nil
		}
		return e, nil
	case BackendOpenAI:
		e, err := NewOpenAIEmbedder(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		if !e.Available(ctx) {
			slog.Warn("embedder_fallback",
				slog.String("backend", string(BackendOpenAI)),
				slog.String("fallback", string(BackendStatic)))
			_ = e.Close()
			return NewStaticEmbedder(), nil
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}
