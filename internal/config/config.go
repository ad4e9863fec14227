// Package config loads the indexer configuration. Values are applied
// in order of increasing precedence: hardcoded defaults, the user
// config (~/.config/mailidx/config.yaml), the project config
// (.mailidx.yaml), then MAILIDX_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/mailidx/internal/embed"
	"github.com/Aman-CERP/mailidx/internal/index"
	"github.com/Aman-CERP/mailidx/internal/jobs"
	"github.com/Aman-CERP/mailidx/internal/logging"
)

// Config is the complete indexer configuration.
type Config struct {
	Version int         `yaml:"version"`
	Paths   PathsConfig `yaml:"paths"`

	Embedding EmbeddingConfig `yaml:"embedding"`

	// Jobs tunes the embedding queue and runner.
	Jobs jobs.Config `yaml:"jobs"`
	// Worker tunes the background refresh worker.
	Worker jobs.WorkerConfig `yaml:"worker"`

	Consistency ConsistencyConfig `yaml:"consistency"`
	Reindex     ReindexConfig     `yaml:"reindex"`

	Logging logging.Config `yaml:"logging"`
}

// PathsConfig locates the store and the index tree.
type PathsConfig struct {
	// IndexRoot is the directory holding per-scope index directories.
	IndexRoot string `yaml:"index_root"`
	// StorePath is the SQLite database file.
	StorePath string `yaml:"store_path"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	// Backend is one of hash, static, ollama, openai.
	Backend string `yaml:"backend"`
	// CacheSize is the LRU entry count; 0 disables caching.
	CacheSize int `yaml:"cache_size"`

	OllamaHost  string `yaml:"ollama_host"`
	OllamaModel string `yaml:"ollama_model"`

	OpenAIModel string `yaml:"openai_model"`
	// OpenAIAPIKey is usually left empty here and supplied via
	// MAILIDX_OPENAI_API_KEY or OPENAI_API_KEY.
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIBase   string `yaml:"openai_base_url"`
}

// ConsistencyConfig tunes the consistency checker.
type ConsistencyConfig struct {
	// CountDriftThreshold is the tolerated store/index count drift
	// fraction before a rebuild is recommended.
	CountDriftThreshold float64 `yaml:"count_drift_threshold"`
}

// ReindexConfig tunes full reindex runs.
type ReindexConfig struct {
	BatchSize       int  `yaml:"batch_size"`
	WriteCheckpoint bool `yaml:"write_checkpoint"`
}

// New returns the configuration defaults.
func New() *Config {
	home := dataDir()
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			IndexRoot: filepath.Join(home, "indexes"),
			StorePath: filepath.Join(home, "mail.db"),
		},
		Embedding: EmbeddingConfig{
			Backend:     string(embed.BackendStatic),
			CacheSize:   embed.DefaultEmbeddingCacheSize,
			OllamaHost:  embed.DefaultOllamaConfig().Host,
			OllamaModel: embed.DefaultOllamaConfig().Model,
			OpenAIModel: embed.DefaultOpenAIModel,
		},
		Jobs:   jobs.DefaultConfig(),
		Worker: jobs.DefaultWorkerConfig(),
		Consistency: ConsistencyConfig{
			CountDriftThreshold: index.DefaultConsistencyConfig().CountDriftThreshold,
		},
		Reindex: ReindexConfig{
			BatchSize:       index.DefaultReindexConfig().BatchSize,
			WriteCheckpoint: true,
		},
		Logging: logging.DefaultConfig(),
	}
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mailidx")
	}
	return filepath.Join(home, ".mailidx")
}

// UserConfigPath is ~/.config/mailidx/config.yaml.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "mailidx", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailidx", "config.yaml")
}

// Load builds the effective configuration for a project directory.
func Load(dir string) (*Config, error) {
	cfg := New()

	if path := UserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{".mailidx.yaml", ".mailidx.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies MAILIDX_* variables, the highest-precedence
// layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MAILIDX_INDEX_ROOT"); v != "" {
		c.Paths.IndexRoot = v
	}
	if v := os.Getenv("MAILIDX_STORE_PATH"); v != "" {
		c.Paths.StorePath = v
	}
	if v := os.Getenv("MAILIDX_EMBED_BACKEND"); v != "" {
		c.Embedding.Backend = v
	}
	if v := os.Getenv("MAILIDX_OLLAMA_HOST"); v != "" {
		c.Embedding.OllamaHost = v
	}
	if v := os.Getenv("MAILIDX_OPENAI_API_KEY"); v != "" {
		c.Embedding.OpenAIAPIKey = v
	}
	if v := os.Getenv("MAILIDX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MAILIDX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Jobs.BatchSize = n
		}
	}
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	switch embed.Backend(c.Embedding.Backend) {
	case embed.BackendHash, embed.BackendStatic, embed.BackendOllama, embed.BackendOpenAI:
	default:
		return fmt.Errorf("unknown embedding backend %q", c.Embedding.Backend)
	}

	if c.Jobs.BatchSize < embed.MinBatchSize || c.Jobs.BatchSize > embed.MaxBatchSize {
		return fmt.Errorf("jobs.batch_size %d outside [%d, %d]",
			c.Jobs.BatchSize, embed.MinBatchSize, embed.MaxBatchSize)
	}
	if c.Jobs.BackpressureThreshold < 1 {
		return fmt.Errorf("jobs.backpressure_threshold must be positive")
	}
	if c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs.max_retries must not be negative")
	}

	if c.Consistency.CountDriftThreshold < 0 || c.Consistency.CountDriftThreshold > 1 {
		return fmt.Errorf("consistency.count_drift_threshold %g outside [0, 1]",
			c.Consistency.CountDriftThreshold)
	}
	if c.Reindex.BatchSize < 1 {
		return fmt.Errorf("reindex.batch_size must be positive")
	}
	if c.Worker.MaxDocsPerCycle < 1 {
		return fmt.Errorf("worker.max_docs_per_cycle must be positive")
	}
	return nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// EmbedderConfig translates the embedding section into the factory's
// config type.
func (c *Config) EmbedderConfig() embed.Config {
	ollama := embed.DefaultOllamaConfig()
	if c.Embedding.OllamaHost != "" {
		ollama.Host = c.Embedding.OllamaHost
	}
	if c.Embedding.OllamaModel != "" {
		ollama.Model = c.Embedding.OllamaModel
	}

	openai := embed.OpenAIConfig{
		APIKey:  c.Embedding.OpenAIAPIKey,
		Model:   c.Embedding.OpenAIModel,
		BaseURL: c.Embedding.OpenAIBase,
	}
	if openai.APIKey == "" {
		openai.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return embed.Config{
		Backend:   embed.Backend(c.Embedding.Backend),
		CacheSize: c.Embedding.CacheSize,
		Ollama:    ollama,
		OpenAI:    openai,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
