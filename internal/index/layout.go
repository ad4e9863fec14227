// Package index manages the search index lifecycle: on-disk layout and
// schema versioning, the lexical and vector engines, consistency
// checking against the primary store, and full rebuilds.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SchemaHash is a content hash of the index field definitions. When the
// schema changes the hash changes, which triggers a full rebuild.
type SchemaHash string

// SchemaField is a field definition used for schema hashing.
type SchemaField struct {
	Name      string `json:"name"`
	FieldType string `json:"field_type"`
	Indexed   bool   `json:"indexed"`
}

// ComputeSchemaHash hashes a list of field definitions. Fields are
// sorted so the hash is independent of declaration order.
func ComputeSchemaHash(fields []SchemaField) SchemaHash {
	entries := make([]string, 0, len(fields))
	for _, f := range fields {
		entries = append(entries, fmt.Sprintf("%s:%s:%t", f.Name, f.FieldType, f.Indexed))
	}
	sort.Strings(entries)

	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e))
		h.Write([]byte{'\n'})
	}
	return SchemaHash(hex.EncodeToString(h.Sum(nil)))
}

// Short returns the first 12 hex chars, used for directory naming.
func (h SchemaHash) Short() string {
	if len(h) < 12 {
		return string(h)
	}
	return string(h[:12])
}

// CheckpointFilename is the checkpoint metadata file name inside an
// index version directory.
const CheckpointFilename = "checkpoint.json"

// Checkpoint records the state of an index build or rebuild. Written
// alongside the index data so startup can tell a finished build from an
// interrupted one.
type Checkpoint struct {
	// SchemaHash at the time of this build.
	SchemaHash SchemaHash `json:"schema_hash"`
	// DocsIndexed is the total documents indexed in this build.
	DocsIndexed int `json:"docs_indexed"`
	// StartedTS is micros since epoch when the build started.
	StartedTS int64 `json:"started_ts"`
	// CompletedTS is micros since epoch when the build completed, nil
	// while in progress.
	CompletedTS *int64 `json:"completed_ts"`
	// MaxVersion is the highest document version included in this build.
	MaxVersion int64 `json:"max_version"`
	// Success reports whether this build completed successfully.
	Success bool `json:"success"`
}

// WriteTo persists the checkpoint into dir. The write goes through a
// temp file and rename so readers never observe a partial checkpoint.
func (c *Checkpoint) WriteTo(dir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := filepath.Join(dir, CheckpointFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpoint loads the checkpoint from dir.
func ReadCheckpoint(dir string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(dir, CheckpointFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &cp, nil
}

// Scope determines which slice of the mailbox an index covers and the
// directory it lives under.
type Scope struct {
	kind string
	id   int64
}

// GlobalScope covers all projects.
func GlobalScope() Scope { return Scope{kind: "global"} }

// ProjectScope covers a single project.
func ProjectScope(projectID int64) Scope { return Scope{kind: "project", id: projectID} }

// ProductScope covers a cross-project product.
func ProductScope(productID int64) Scope { return Scope{kind: "product", id: productID} }

// DirName returns the directory name component for this scope.
func (s Scope) DirName() string {
	if s.kind == "global" || s.kind == "" {
		return "global"
	}
	return fmt.Sprintf("%s-%d", s.kind, s.id)
}

// ProjectID returns the project ID for project scopes, 0 otherwise.
func (s Scope) ProjectID() int64 {
	if s.kind == "project" {
		return s.id
	}
	return 0
}

// Engine names used in the directory layout and active links.
const (
	EngineLexical  = "lexical"
	EngineSemantic = "semantic"
)

// Layout manages the on-disk arrangement of search indexes.
//
//	{root}/indexes/{scope}/
//	  lexical/{schema_short}/   bleve files + checkpoint.json
//	  semantic/{schema_short}/  vector files + checkpoint.json
//	  active-lexical -> lexical/{schema_short}
//	  active-semantic -> semantic/{schema_short}
type Layout struct {
	root string
}

// NewLayout creates a layout rooted at the given directory.
func NewLayout(root string) Layout {
	return Layout{root: root}
}

// Root returns the layout root directory.
func (l Layout) Root() string { return l.root }

// ScopeDir returns the directory for a scope.
func (l Layout) ScopeDir(scope Scope) string {
	return filepath.Join(l.root, "indexes", scope.DirName())
}

// LexicalDir returns the lexical index directory for a schema version.
func (l Layout) LexicalDir(scope Scope, schema SchemaHash) string {
	return filepath.Join(l.ScopeDir(scope), EngineLexical, schema.Short())
}

// SemanticDir returns the vector index directory for a schema version.
func (l Layout) SemanticDir(scope Scope, schema SchemaHash) string {
	return filepath.Join(l.ScopeDir(scope), EngineSemantic, schema.Short())
}

// ActiveLink returns the symlink path marking the active index version.
func (l Layout) ActiveLink(scope Scope, engine string) string {
	return filepath.Join(l.ScopeDir(scope), "active-"+engine)
}

// EnsureDirs creates the index directories for a schema version.
func (l Layout) EnsureDirs(scope Scope, schema SchemaHash) error {
	if err := os.MkdirAll(l.LexicalDir(scope, schema), 0o755); err != nil {
		return fmt.Errorf("failed to create lexical dir: %w", err)
	}
	if err := os.MkdirAll(l.SemanticDir(scope, schema), 0o755); err != nil {
		return fmt.Errorf("failed to create semantic dir: %w", err)
	}
	return nil
}

// Activate atomically points the active link at a schema version. A temp
// symlink is created first and renamed over the old link, so readers
// always see either the old or the new target.
func (l Layout) Activate(scope Scope, engine string, schema SchemaHash) error {
	var target string
	switch engine {
	case EngineLexical:
		target = l.LexicalDir(scope, schema)
	case EngineSemantic:
		target = l.SemanticDir(scope, schema)
	default:
		return fmt.Errorf("unknown engine type: %s", engine)
	}

	linkPath := l.ActiveLink(scope, engine)
	tmpLink := linkPath + ".tmp"
	_ = os.Remove(tmpLink)

	if err := os.Symlink(target, tmpLink); err != nil {
		return fmt.Errorf("failed to create symlink: %w", err)
	}
	if err := os.Rename(tmpLink, linkPath); err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("failed to swap active link: %w", err)
	}
	return nil
}

// ActiveSchema returns the short schema hash the active link points at,
// or "" when no active index exists.
func (l Layout) ActiveSchema(scope Scope, engine string) string {
	target, err := os.Readlink(l.ActiveLink(scope, engine))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

// IsSchemaCompatible reports whether the given schema can serve reads
// for this scope and engine. True when no active index exists (first
// build) or when the active version matches.
func (l Layout) IsSchemaCompatible(scope Scope, engine string, schema SchemaHash) bool {
	active := l.ActiveSchema(scope, engine)
	return active == "" || active == schema.Short()
}
