// Package logging sets up structured slog output for the indexer. The
// worker and CLI log JSON to a rotating file under ~/.mailidx/logs/ and
// optionally mirror to stderr.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config controls log destination and verbosity.
type Config struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string `yaml:"level"`
	// FilePath is the log file; empty disables file logging.
	FilePath string `yaml:"file_path"`
	// MaxSizeMB is the rotation threshold per file.
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxFiles is how many rotated files to keep.
	MaxFiles int `yaml:"max_files"`
	// MirrorStderr also writes every record to stderr.
	MirrorStderr bool `yaml:"mirror_stderr"`
}

// DefaultConfig returns file logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:        "info",
		FilePath:     DefaultLogPath(),
		MaxSizeMB:    10,
		MaxFiles:     5,
		MirrorStderr: true,
	}
}

// DefaultLogDir is ~/.mailidx/logs, falling back to the temp dir when
// no home directory is available.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mailidx", "logs")
	}
	return filepath.Join(home, ".mailidx", "logs")
}

// DefaultLogPath is the indexer's log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "mailidx.log")
}

// Setup builds a JSON slog.Logger per cfg and returns it with a cleanup
// function that flushes and closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var (
		output  io.Writer = os.Stderr
		cleanup           = func() {}
	)

	if cfg.FilePath != "" {
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		output = writer
		if cfg.MirrorStderr {
			output = io.MultiWriter(writer, os.Stderr)
		}
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})
	return slog.New(handler), cleanup, nil
}

// SetupDefault installs the configured logger as the slog default.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
