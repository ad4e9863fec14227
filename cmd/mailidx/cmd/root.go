// Package cmd provides the CLI commands for the mailidx index engine.
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mailidx/internal/config"
	"github.com/Aman-CERP/mailidx/internal/index"
	"github.com/Aman-CERP/mailidx/internal/logging"
	"github.com/Aman-CERP/mailidx/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the mailidx root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailidx",
		Short: "Search index lifecycle engine for the agent mailbox",
		Long: `mailidx keeps the mailbox search indexes consistent with the
primary store: it embeds documents in the background, detects index
drift and corruption, and rebuilds indexes from the store when needed.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("mailidx version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"Enable debug logging to ~/.mailidx/logs/")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newRepairCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(*cobra.Command, []string) error {
	cfg := logging.DefaultConfig()
	// Keep stderr clean; command output goes to stdout, logs to file.
	cfg.MirrorStderr = false
	if debugMode {
		cfg.Level = "debug"
	}
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads configuration for the current directory.
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return config.Load(cwd)
}

// parseScope accepts "global", "project:N", or "product:N".
func parseScope(s string) (index.Scope, error) {
	if s == "" || s == "global" {
		return index.GlobalScope(), nil
	}
	kind, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return index.Scope{}, fmt.Errorf("invalid scope %q, want global, project:N, or product:N", s)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return index.Scope{}, fmt.Errorf("invalid scope id in %q", s)
	}
	switch kind {
	case "project":
		return index.ProjectScope(id), nil
	case "product":
		return index.ProductScope(id), nil
	default:
		return index.Scope{}, fmt.Errorf("unknown scope kind %q", kind)
	}
}
