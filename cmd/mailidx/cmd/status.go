package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mailidx/internal/index"
)

// statusInfo is the operator-facing snapshot assembled by the status
// command.
type statusInfo struct {
	Scope         string            `json:"scope"`
	SchemaHash    string            `json:"schema_hash"`
	StoreDocs     int64             `json:"store_docs"`
	StoreEmbedded int64             `json:"store_embedded"`
	IndexDocs     uint64            `json:"index_docs"`
	IndexReady    bool              `json:"index_ready"`
	ActiveSchema  string            `json:"active_schema,omitempty"`
	Checkpoint    *index.Checkpoint `json:"checkpoint,omitempty"`
	Healthy       bool              `json:"healthy"`
	ErrorFindings int               `json:"error_findings"`
	WarnFindings  int               `json:"warning_findings"`
}

func newStatusCmd() *cobra.Command {
	var (
		scopeFlag  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store and index health at a glance",
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

			info, err := collectStatus(cmd.Context(), eng)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			renderStatus(cmd, info)
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeFlag, "scope", "global", "Index scope (global, project:N, product:N)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func collectStatus(ctx context.Context, eng *engine) (*statusInfo, error) {
	schema := index.DefaultSchemaHash()
	info := &statusInfo{
		Scope:      eng.scope.DirName(),
		SchemaHash: schema.Short(),
		IndexReady: eng.lexical.Ready(),
	}

	var err error
	if info.StoreDocs, err = eng.source().TotalCount(ctx); err != nil {
		return nil, fmt.Errorf("failed to count store documents: %w", err)
	}
	if info.StoreEmbedded, err = eng.store.EmbeddingCount(ctx); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	if info.IndexDocs, err = eng.lexical.DocCount(ctx); err != nil {
		return nil, fmt.Errorf("failed to count indexed documents: %w", err)
	}

	info.ActiveSchema = eng.layout.ActiveSchema(eng.scope, index.EngineLexical)

	if cp, err := index.ReadCheckpoint(eng.layout.LexicalDir(eng.scope, schema)); err == nil {
		info.Checkpoint = cp
	}

	report, err := eng.checker().Check(ctx, eng.consistencyConfig())
	if err != nil {
		return nil, fmt.Errorf("consistency check failed: %w", err)
	}
	info.Healthy = report.Healthy
	info.ErrorFindings = report.ErrorCount()
	info.WarnFindings = report.WarningCount()

	return info, nil
}

func renderStatus(cmd *cobra.Command, info *statusInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scope:           %s\n", info.Scope)
	fmt.Fprintf(out, "Schema:          %s\n", info.SchemaHash)
	fmt.Fprintf(out, "Store documents: %d (%d embedded)\n", info.StoreDocs, info.StoreEmbedded)
	fmt.Fprintf(out, "Index documents: %d (ready: %v)\n", info.IndexDocs, info.IndexReady)
	if info.ActiveSchema != "" {
		fmt.Fprintf(out, "Active schema:   %s\n", info.ActiveSchema)
	}
	if cp := info.Checkpoint; cp != nil {
		when := "incomplete"
		if cp.CompletedTS != nil {
			when = time.UnixMicro(*cp.CompletedTS).Format(time.RFC3339)
		}
		fmt.Fprintf(out, "Last build:      %d docs, success=%v, completed %s\n",
			cp.DocsIndexed, cp.Success, when)
	}
	if info.Healthy {
		fmt.Fprintln(out, "Health:          ok")
	} else {
		fmt.Fprintf(out, "Health:          DEGRADED (%d errors, %d warnings)\n",
			info.ErrorFindings, info.WarnFindings)
	}
}
