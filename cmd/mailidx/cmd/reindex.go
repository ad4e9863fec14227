package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newReindexCmd() *cobra.Command {
	var scopeFlag string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the primary store",
		Long: `Clear the scope's index and rebuild it from the store in batches.
Only one reindex per scope runs at a time; concurrent attempts fail
immediately. A checkpoint is written on completion.`,
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

			out := cmd.OutOrStdout()
			progress := newProgressRenderer(out)

			result, err := eng.reindexer().FullReindex(cmd.Context(), eng.reindexConfig(), progress.update)
			if err != nil {
				return fmt.Errorf("reindex failed: %w", err)
			}
			progress.finish()

			fmt.Fprintf(out, "Reindexed %d documents in %dms (scope %s)\n",
				result.Stats.DocsIndexed, result.ElapsedMS, scope.DirName())
			for _, w := range result.Stats.Warnings {
				fmt.Fprintf(out, "  warning: %s\n", w)
			}
			if !result.CheckpointWritten {
				fmt.Fprintln(out, "  warning: checkpoint was not written")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeFlag, "scope", "global", "Index scope (global, project:N, product:N)")

	return cmd
}

// progressRenderer redraws an in-place counter on a TTY and stays
// silent otherwise.
type progressRenderer struct {
	out   interface{ Write([]byte) (int, error) }
	tty   bool
	drawn bool
}

func newProgressRenderer(out interface{ Write([]byte) (int, error) }) *progressRenderer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressRenderer{out: out, tty: tty}
}

func (p *progressRenderer) update(indexed, total int) {
	if !p.tty {
		return
	}
	fmt.Fprintf(p.out, "\rIndexing %d/%d", indexed, total)
	p.drawn = true
}

func (p *progressRenderer) finish() {
	if p.drawn {
		fmt.Fprintln(p.out)
	}
}
