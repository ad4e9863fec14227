package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRepairCmd() *cobra.Command {
	var scopeFlag string

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Check the index and rebuild it only if needed",
		Long: `Run the consistency checks and trigger a full reindex when they
recommend one. A healthy index is left untouched.`,
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

			report, result, err := eng.reindexer().RepairIfNeeded(cmd.Context())
			if err != nil {
				return fmt.Errorf("repair failed: %w", err)
			}

			out := cmd.OutOrStdout()
			renderReport(cmd, scope, report)
			if result == nil {
				fmt.Fprintln(out, "No repair needed.")
				return nil
			}
			fmt.Fprintf(out, "Repaired: reindexed %d documents in %dms.\n",
				result.Stats.DocsIndexed, result.ElapsedMS)
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeFlag, "scope", "global", "Index scope (global, project:N, product:N)")

	return cmd
}
