package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mailidx/internal/document"
)

// ingestDoc is the JSON shape accepted by the ingest command.
type ingestDoc struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	ProjectID int64  `json:"project_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedTS int64  `json:"created_ts,omitempty"` // microseconds, now when 0
}

func newIngestCmd() *cobra.Command {
	var scopeFlag string

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Load documents into the store and the index",
		Long: `Read a JSON array of documents from a file (or stdin with "-"),
save them to the store, and apply them to the lexical index
incrementally. Embeddings catch up on the next worker cycle.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeFlag)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			docs, err := readIngestFile(args[0])
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no documents to ingest")
			}

			eng, err := openEngine(cfg, scope)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := cmd.Context()
			if err := eng.store.SaveDocuments(ctx, docs); err != nil {
				return fmt.Errorf("failed to save documents: %w", err)
			}

			changes := make([]document.Change, 0, len(docs))
			for _, doc := range docs {
				changes = append(changes, document.Upsert(doc))
			}
			applied, err := eng.lexical.UpdateIncremental(ctx, changes)
			if err != nil {
				return fmt.Errorf("failed to update index: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents, indexed %d.\n", len(docs), applied)
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeFlag, "scope", "global", "Index scope (global, project:N, product:N)")

	return cmd
}

func readIngestFile(path string) ([]document.Document, error) {
	var reader io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		reader = f
	}

	var raw []ingestDoc
	if err := json.NewDecoder(reader).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse documents: %w", err)
	}

	docs := make([]document.Document, 0, len(raw))
	for _, r := range raw {
		kind, err := document.ParseKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", r.ID, err)
		}
		created := time.Now()
		if r.CreatedTS != 0 {
			created = time.UnixMicro(r.CreatedTS)
		}
		docs = append(docs, document.Document{
			ID:        document.DocID(r.ID),
			Kind:      kind,
			ProjectID: r.ProjectID,
			Title:     r.Title,
			Body:      r.Body,
			CreatedTS: created,
			UpdatedTS: created,
		})
	}
	return docs, nil
}
