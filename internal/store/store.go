// Package store is the primary SQLite-backed document store. The search
// indexes are derived data; the store is the source of truth they are
// rebuilt from.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/Aman-CERP/mailidx/internal/document"
	merrors "github.com/Aman-CERP/mailidx/internal/errors"
	"github.com/Aman-CERP/mailidx/internal/index"
	"github.com/Aman-CERP/mailidx/internal/jobs"
)

// errStoreClosed is returned by every operation after Close.
var errStoreClosed = merrors.New(merrors.ErrCodeStoreClosed, "store is closed", nil)

// Store holds mailbox documents and persisted embeddings in a single
// SQLite database. WAL mode allows concurrent readers alongside the
// single writer connection.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var (
	_ index.DocumentSource    = (*Store)(nil)
	_ jobs.EmbeddingPersister = (*Store)(nil)
)

// validateIntegrity checks an existing database before opening it.
// Returns nil when the file is absent; it will be created.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open opens or creates the store at path. An empty path opens an
// in-memory database for tests. A corrupted database file is cleared
// and recreated empty; the indexes rebuild from whatever survives.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("store corrupted at %s and cannot remove: %w", path, removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer prevents SQLITE_BUSY churn under modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN pragma parameters are not honored by modernc.org/sqlite, so
	// they are applied per statement.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id         INTEGER NOT NULL,
		kind       TEXT    NOT NULL,
		project_id INTEGER NOT NULL DEFAULT 0,
		title      TEXT    NOT NULL DEFAULT '',
		body       TEXT    NOT NULL DEFAULT '',
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL,
		PRIMARY KEY (id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_project
		ON documents (project_id);
	CREATE INDEX IF NOT EXISTS idx_documents_created
		ON documents (created_ts, id, kind);

	CREATE TABLE IF NOT EXISTS embeddings (
		doc_id       INTEGER NOT NULL,
		doc_kind     TEXT    NOT NULL,
		project_id   INTEGER NOT NULL DEFAULT 0,
		model_id     TEXT    NOT NULL,
		content_hash TEXT    NOT NULL,
		dimensions   INTEGER NOT NULL,
		vector       BLOB    NOT NULL,
		updated_ts   INTEGER NOT NULL,
		PRIMARY KEY (doc_id, doc_kind)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveDocuments inserts or replaces documents in one transaction.
func (s *Store) SaveDocuments(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO documents
			(id, kind, project_id, title, body, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		if !doc.Kind.Valid() {
			return fmt.Errorf("invalid document kind %q", doc.Kind)
		}
		created := doc.CreatedTS
		if created.IsZero() {
			created = time.Now()
		}
		updated := doc.UpdatedTS
		if updated.IsZero() {
			updated = created
		}
		if _, err := stmt.ExecContext(ctx,
			int64(doc.ID), string(doc.Kind), doc.ProjectID,
			doc.Title, doc.Body,
			created.UnixMicro(), updated.UnixMicro()); err != nil {
			return fmt.Errorf("failed to save document %d: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and its persisted embedding.
func (s *Store) DeleteDocument(ctx context.Context, key document.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND kind = ?`,
		int64(key.ID), string(key.Kind)); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE doc_id = ? AND doc_kind = ?`,
		int64(key.ID), string(key.Kind)); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetDocument fetches a single document by key.
func (s *Store) GetDocument(ctx context.Context, key document.Key) (document.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return document.Document{}, false, errStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, project_id, title, body, created_ts, updated_ts
		FROM documents WHERE id = ? AND kind = ?`,
		int64(key.ID), string(key.Kind))

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, false, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, true, nil
}

// TotalCount returns the number of stored documents.
func (s *Store) TotalCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errStoreClosed
	}

	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// FetchBatch returns up to limit documents starting at offset, ordered
// by creation time then key. The order is stable across calls so pages
// never overlap or skip.
func (s *Store) FetchBatch(ctx context.Context, limit, offset int) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, project_id, title, body, created_ts, updated_ts
		FROM documents
		ORDER BY created_ts, id, kind
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// FetchAllBatched streams every document through fn in stable-order
// pages. fn returning an error stops the scan.
func (s *Store) FetchAllBatched(ctx context.Context, batchSize int, fn func([]document.Document) error) error {
	if batchSize < 1 {
		batchSize = 1
	}
	offset := 0
	for {
		batch, err := s.FetchBatch(ctx, batchSize, offset)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		offset += len(batch)
	}
}

// ScopedSource returns a DocumentSource restricted to the given index
// scope. The global scope sees every document.
func (s *Store) ScopedSource(scope index.Scope) index.DocumentSource {
	if scope.ProjectID() == 0 {
		return s
	}
	return &scopedSource{store: s, projectID: scope.ProjectID()}
}

type scopedSource struct {
	store     *Store
	projectID int64
}

func (p *scopedSource) TotalCount(ctx context.Context) (int64, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	if p.store.closed {
		return 0, errStoreClosed
	}

	var count int64
	if err := p.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE project_id = ?`,
		p.projectID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func (p *scopedSource) FetchBatch(ctx context.Context, limit, offset int) ([]document.Document, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	if p.store.closed {
		return nil, errStoreClosed
	}

	rows, err := p.store.db.QueryContext(ctx, `
		SELECT id, kind, project_id, title, body, created_ts, updated_ts
		FROM documents
		WHERE project_id = ?
		ORDER BY created_ts, id, kind
		LIMIT ? OFFSET ?`, p.projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// SaveEmbedding persists a successful embedding so it survives index
// rebuilds.
func (s *Store) SaveEmbedding(ctx context.Context, meta index.VectorMetadata, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO embeddings
			(doc_id, doc_kind, project_id, model_id, content_hash, dimensions, vector, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(meta.DocID), string(meta.DocKind), meta.ProjectID,
		meta.ModelID, meta.ContentHash,
		len(vector), encodeVector(vector), time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// GetEmbedding fetches the persisted embedding for a document.
func (s *Store) GetEmbedding(ctx context.Context, key document.Key) (index.VectorMetadata, []float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return index.VectorMetadata{}, nil, false, errStoreClosed
	}

	var (
		meta index.VectorMetadata
		kind string
		blob []byte
		dims int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id, doc_kind, project_id, model_id, content_hash, dimensions, vector
		FROM embeddings WHERE doc_id = ? AND doc_kind = ?`,
		int64(key.ID), string(key.Kind)).
		Scan(&meta.DocID, &kind, &meta.ProjectID, &meta.ModelID, &meta.ContentHash, &dims, &blob)
	if err == sql.ErrNoRows {
		return index.VectorMetadata{}, nil, false, nil
	}
	if err != nil {
		return index.VectorMetadata{}, nil, false, fmt.Errorf("failed to get embedding: %w", err)
	}
	meta.DocKind = document.DocKind(kind)

	vector, err := decodeVector(blob)
	if err != nil {
		return index.VectorMetadata{}, nil, false, err
	}
	if len(vector) != dims {
		return index.VectorMetadata{}, nil, false,
			fmt.Errorf("embedding for %s has %d values, expected %d", key, len(vector), dims)
	}
	return meta, vector, true, nil
}

// EmbeddingCount returns the number of persisted embeddings.
func (s *Store) EmbeddingCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errStoreClosed
	}

	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return count, nil
}

// Close closes the database. Further calls error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (document.Document, error) {
	var (
		doc       document.Document
		kind      string
		createdUS int64
		updatedUS int64
	)
	if err := row.Scan(&doc.ID, &kind, &doc.ProjectID, &doc.Title, &doc.Body, &createdUS, &updatedUS); err != nil {
		return document.Document{}, err
	}
	doc.Kind = document.DocKind(kind)
	doc.CreatedTS = time.UnixMicro(createdUS)
	doc.UpdatedTS = time.UnixMicro(updatedUS)
	return doc, nil
}

func collectDocuments(rows *sql.Rows) ([]document.Document, error) {
	var docs []document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// encodeVector packs float32 values little-endian for BLOB storage.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes, not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
