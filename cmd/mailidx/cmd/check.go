package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mailidx/internal/index"
)

func newCheckCmd() *cobra.Command {
	var (
		scopeFlag  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run consistency checks against the store",
		Long: `Compare the search index with the primary store: readiness,
schema compatibility, build checkpoint, and document count drift.
Exits non-zero when a rebuild is recommended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeFlag)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			eng, err := openEngine(cfg, scope)
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.checker().Check(cmd.Context(), eng.consistencyConfig())
			if err != nil {
				return fmt.Errorf("consistency check failed: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				renderReport(cmd, scope, report)
			}

			if report.RebuildRecommended {
				return fmt.Errorf("rebuild recommended, run 'mailidx reindex --scope %s'", scope.DirName())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeFlag, "scope", "global", "Index scope (global, project:N, product:N)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func renderReport(cmd *cobra.Command, scope index.Scope, report *index.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Consistency report for scope %s (%dms)\n\n", scope.DirName(), report.ElapsedMS)
	for _, f := range report.Findings {
		fmt.Fprintf(out, "  [%s] %s: %s\n", f.Severity, f.Category, f.Message)
		if f.Suggestion != "" {
			fmt.Fprintf(out, "          -> %s\n", f.Suggestion)
		}
	}
	fmt.Fprintln(out)
	if report.Healthy {
		fmt.Fprintln(out, "Index is healthy.")
	} else {
		fmt.Fprintf(out, "Index is unhealthy: %d error(s), %d warning(s).\n",
			report.ErrorCount(), report.WarningCount())
	}
}
