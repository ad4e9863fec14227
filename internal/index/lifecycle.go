package index

import (
	"context"

	"github.com/Aman-CERP/mailidx/internal/document"
)

// Lifecycle is the control surface the reindexer, consistency checker,
// and refresh worker drive an index engine through.
type Lifecycle interface {
	// Ready reports whether the index can serve reads and writes.
	Ready() bool

	// Schema returns the schema version the engine was built for.
	Schema() SchemaHash

	// Rebuild discards the current contents and prepares a fresh empty
	// index for the engine's schema version.
	Rebuild(ctx context.Context) error

	// UpdateIncremental applies a batch of document changes and returns
	// how many were applied.
	UpdateIncremental(ctx context.Context, changes []document.Change) (int, error)

	// DocCount returns the number of documents currently indexed.
	DocCount(ctx context.Context) (uint64, error)

	// Close releases the engine's resources.
	Close() error
}

// DocumentSource is the primary-store read surface the index lifecycle
// pulls from. The index is always rebuildable from this source.
type DocumentSource interface {
	// TotalCount returns the number of indexable documents.
	TotalCount(ctx context.Context) (int64, error)

	// FetchBatch returns up to limit documents starting at offset, in a
	// stable order. A short page means the end was reached; callers
	// must not treat a subsequent insert as extending the scan.
	FetchBatch(ctx context.Context, limit, offset int) ([]document.Document, error)
}

// DefaultSchemaFields returns the field definitions of the current
// mailbox document schema. The derived hash names index directories, so
// any change here forces a rebuild.
func DefaultSchemaFields() []SchemaField {
	return []SchemaField{
		{Name: "title", FieldType: "text", Indexed: true},
		{Name: "body", FieldType: "text", Indexed: true},
		{Name: "kind", FieldType: "text", Indexed: true},
		{Name: "project_id", FieldType: "i64", Indexed: true},
		{Name: "created_ts", FieldType: "i64", Indexed: false},
	}
}

// DefaultSchemaHash hashes DefaultSchemaFields.
func DefaultSchemaHash() SchemaHash {
	return ComputeSchemaHash(DefaultSchemaFields())
}
