// Package document defines the searchable document model shared by the
// lexical and semantic index pipelines.
package document

import (
	"fmt"
	"time"
)

// DocKind identifies which mailbox entity a document was derived from.
type DocKind string

const (
	KindMessage DocKind = "message"
	KindThread  DocKind = "thread"
	KindAgent   DocKind = "agent"
	KindProject DocKind = "project"
)

// Valid reports whether k is one of the known document kinds.
func (k DocKind) Valid() bool {
	switch k {
	case KindMessage, KindThread, KindAgent, KindProject:
		return true
	}
	return false
}

// ParseKind converts a stored kind string back into a DocKind.
func ParseKind(s string) (DocKind, error) {
	k := DocKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown document kind %q", s)
	}
	return k, nil
}

// DocID is the primary key of the source row the document was built from.
// IDs are only unique within a kind, so index keys combine both.
type DocID int64

// Key is the deduplication and index identity for a document.
type Key struct {
	ID   DocID
	Kind DocKind
}

// String renders the key in the "kind:id" form used for index document IDs.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Document is a denormalized, index-ready view of a mailbox entity.
type Document struct {
	ID        DocID
	Kind      DocKind
	ProjectID int64 // 0 when the document is not scoped to a project
	Title     string
	Body      string
	CreatedTS time.Time
	UpdatedTS time.Time
}

// Key returns the document's index identity.
func (d *Document) Key() Key {
	return Key{ID: d.ID, Kind: d.Kind}
}

// Change describes a single mutation to feed into incremental index updates.
type Change struct {
	Doc    Document
	Delete bool
}

// Upsert wraps a document as an insert-or-replace change.
func Upsert(doc Document) Change {
	return Change{Doc: doc}
}

// Delete produces a tombstone change for the given key.
func Delete(key Key) Change {
	return Change{Doc: Document{ID: key.ID, Kind: key.Kind}, Delete: true}
}
