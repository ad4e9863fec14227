package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/mailidx/internal/document"
)

// lexicalDoc is the document shape handed to bleve.
type lexicalDoc struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Kind      string `json:"kind"`
	ProjectID int64  `json:"project_id"`
	CreatedTS int64  `json:"created_ts"`
}

// LexicalResult is a scored full-text match.
type LexicalResult struct {
	Key   document.Key
	Score float64
}

// LexicalIndex is the bleve-backed full-text engine. One instance maps
// to one schema version directory under the layout.
type LexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	layout Layout
	scope  Scope
	schema SchemaHash
	closed bool
}

// validateIndexIntegrity rejects a bleve directory whose metadata is
// missing or unparseable, so open failures turn into a clean rebuild
// instead of a crash loop.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError checks if an error indicates bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewLexicalIndex opens or creates the lexical index for a scope and
// schema version. A corrupted on-disk index is cleared and recreated;
// the consistency checker will flag the missing documents.
func NewLexicalIndex(layout Layout, scope Scope, schema SchemaHash) (*LexicalIndex, error) {
	path := layout.LexicalDir(scope, schema)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index parent dir: %w", err)
	}

	idx, err := openBleve(path)
	if err != nil {
		return nil, err
	}

	l := &LexicalIndex{
		index:  idx,
		layout: layout,
		scope:  scope,
		schema: schema,
	}

	if err := layout.Activate(scope, EngineLexical, schema); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return l, nil
}

// NewMemLexicalIndex creates an in-memory lexical index for tests.
func NewMemLexicalIndex(schema SchemaHash) (*LexicalIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}
	return &LexicalIndex{index: idx, schema: schema}, nil
}

func openBleve(path string) (bleve.Index, error) {
	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("lexical_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w", path, removeErr)
		}
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	} else if err != nil && isCorruptionError(err) {
		slog.Warn("lexical_index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w", removeErr)
		}
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}
	return idx, nil
}

// Ready reports whether the index can serve.
func (l *LexicalIndex) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index != nil && !l.closed
}

// Schema returns the schema version this index was built for.
func (l *LexicalIndex) Schema() SchemaHash {
	return l.schema
}

// Rebuild clears the index contents and recreates an empty one for the
// same schema version.
func (l *LexicalIndex) Rebuild(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("index is closed")
	}

	if err := l.index.Close(); err != nil {
		return fmt.Errorf("failed to close index for rebuild: %w", err)
	}

	// In-memory instances have no layout backing.
	if l.layout.Root() == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return fmt.Errorf("failed to recreate in-memory index: %w", err)
		}
		l.index = idx
		return nil
	}

	path := l.layout.LexicalDir(l.scope, l.schema)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to clear index dir: %w", err)
	}
	idx, err := bleve.New(path, bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to recreate index: %w", err)
	}
	l.index = idx
	return nil
}

// UpdateIncremental applies document changes in a single bleve batch.
func (l *LexicalIndex) UpdateIncremental(_ context.Context, changes []document.Change) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, fmt.Errorf("index is closed")
	}

	batch := l.index.NewBatch()
	for _, ch := range changes {
		id := ch.Doc.Key().String()
		if ch.Delete {
			batch.Delete(id)
			continue
		}
		doc := lexicalDoc{
			Title:     ch.Doc.Title,
			Body:      ch.Doc.Body,
			Kind:      string(ch.Doc.Kind),
			ProjectID: ch.Doc.ProjectID,
			CreatedTS: ch.Doc.CreatedTS.UnixMicro(),
		}
		if err := batch.Index(id, doc); err != nil {
			return 0, fmt.Errorf("failed to index document %s: %w", id, err)
		}
	}

	if err := l.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to execute batch: %w", err)
	}
	return len(changes), nil
}

// DocCount returns the number of indexed documents.
func (l *LexicalIndex) DocCount(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, fmt.Errorf("index is closed")
	}
	return l.index.DocCount()
}

// Search returns documents matching the query, best first.
func (l *LexicalIndex) Search(ctx context.Context, queryStr string, limit int) ([]LexicalResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []LexicalResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		key, err := parseDocKey(hit.ID)
		if err != nil {
			continue
		}
		results = append(results, LexicalResult{Key: key, Score: hit.Score})
	}
	return results, nil
}

// parseDocKey inverts document.Key.String().
func parseDocKey(id string) (document.Key, error) {
	i := strings.IndexByte(id, ':')
	if i < 0 {
		return document.Key{}, fmt.Errorf("malformed document id %q", id)
	}
	kind, err := document.ParseKind(id[:i])
	if err != nil {
		return document.Key{}, err
	}
	var docID int64
	if _, err := fmt.Sscanf(id[i+1:], "%d", &docID); err != nil {
		return document.Key{}, fmt.Errorf("malformed document id %q", id)
	}
	return document.Key{ID: document.DocID(docID), Kind: kind}, nil
}

// Close releases the bleve index.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.index.Close()
}

var _ Lifecycle = (*LexicalIndex)(nil)
