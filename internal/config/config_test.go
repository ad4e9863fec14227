package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mailidx/internal/embed"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, string(embed.BackendStatic), cfg.Embedding.Backend)
	assert.Equal(t, 1, cfg.Version)
	assert.NotEmpty(t, cfg.Paths.IndexRoot)
	assert.NotEmpty(t, cfg.Paths.StorePath)
}

func TestLoadNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, New().Jobs.BatchSize, cfg.Jobs.BatchSize)
}

func TestLoadProjectFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
embedding:
  backend: hash
jobs:
  batch_size: 16
consistency:
  count_drift_threshold: 0.1
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mailidx.yaml"), content, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "hash", cfg.Embedding.Backend)
	assert.Equal(t, 16, cfg.Jobs.BatchSize)
	assert.InDelta(t, 0.1, cfg.Consistency.CountDriftThreshold, 1e-9)

	// Untouched sections keep their defaults.
	assert.Equal(t, New().Worker.MaxDocsPerCycle, cfg.Worker.MaxDocsPerCycle)
}

func TestLoadRejectsBadBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mailidx.yaml"),
		[]byte("embedding:\n  backend: quantum\n"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding backend")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mailidx.yaml"),
		[]byte("jobs: [not a map"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAILIDX_EMBED_BACKEND", "hash")
	t.Setenv("MAILIDX_BATCH_SIZE", "8")
	t.Setenv("MAILIDX_INDEX_ROOT", "/tmp/idx")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "hash", cfg.Embedding.Backend)
	assert.Equal(t, 8, cfg.Jobs.BatchSize)
	assert.Equal(t, "/tmp/idx", cfg.Paths.IndexRoot)
}

func TestValidateBounds(t *testing.T) {
	cfg := New()
	cfg.Jobs.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.Jobs.BatchSize = embed.MaxBatchSize + 1
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.Consistency.CountDriftThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.Reindex.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.Worker.MaxDocsPerCycle = 0
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.Jobs.BackpressureThreshold = 0
	assert.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := New()
	cfg.Embedding.Backend = "ollama"
	require.NoError(t, cfg.Save(path))

	loaded := New()
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, "ollama", loaded.Embedding.Backend)
	assert.Equal(t, cfg.Jobs.BatchSize, loaded.Jobs.BatchSize)
}

func TestEmbedderConfig(t *testing.T) {
	cfg := New()
	cfg.Embedding.Backend = "ollama"
	cfg.Embedding.OllamaHost = "http://embed-host:11434"
	cfg.Embedding.OllamaModel = "custom-model"

	ec := cfg.EmbedderConfig()
	assert.Equal(t, embed.BackendOllama, ec.Backend)
	assert.Equal(t, "http://embed-host:11434", ec.Ollama.Host)
	assert.Equal(t, "custom-model", ec.Ollama.Model)
	assert.Equal(t, cfg.Embedding.CacheSize, ec.CacheSize)
}
