package cmd

import (
	"fmt"

	"github.com/Aman-CERP/mailidx/internal/config"
	"github.com/Aman-CERP/mailidx/internal/index"
	"github.com/Aman-CERP/mailidx/internal/store"
)

// engine bundles the components most commands need: the primary store,
// the index layout, and the scope's lexical lifecycle.
type engine struct {
	cfg     *config.Config
	store   *store.Store
	layout  index.Layout
	scope   index.Scope
	lexical *index.LexicalIndex
}

func openEngine(cfg *config.Config, scope index.Scope) (*engine, error) {
	st, err := store.Open(cfg.Paths.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	layout := index.NewLayout(cfg.Paths.IndexRoot)
	lexical, err := index.NewLexicalIndex(layout, scope, index.DefaultSchemaHash())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	return &engine{
		cfg:     cfg,
		store:   st,
		layout:  layout,
		scope:   scope,
		lexical: lexical,
	}, nil
}

func (e *engine) source() index.DocumentSource {
	return e.store.ScopedSource(e.scope)
}

func (e *engine) checker() *index.Checker {
	return index.NewChecker(e.source(), e.lexical, e.layout, e.scope)
}

func (e *engine) reindexer() *index.Reindexer {
	return index.NewReindexer(e.source(), e.lexical, e.layout, e.scope)
}

func (e *engine) consistencyConfig() index.ConsistencyConfig {
	return index.ConsistencyConfig{
		CountDriftThreshold: e.cfg.Consistency.CountDriftThreshold,
	}
}

func (e *engine) reindexConfig() index.ReindexConfig {
	return index.ReindexConfig{
		BatchSize:       e.cfg.Reindex.BatchSize,
		WriteCheckpoint: e.cfg.Reindex.WriteCheckpoint,
	}
}

func (e *engine) Close() {
	_ = e.lexical.Close()
	_ = e.store.Close()
}
