package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mailidx/internal/document"
)

func lexicalFixture(t *testing.T) (*LexicalIndex, Layout) {
	t.Helper()
	layout := NewLayout(t.TempDir())
	schema := DefaultSchemaHash()
	require.NoError(t, layout.EnsureDirs(GlobalScope(), schema))

	idx, err := NewLexicalIndex(layout, GlobalScope(), schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx, layout
}

func lexDoc(id int64, title, body string) document.Document {
	return document.Document{
		ID:        document.DocID(id),
		Kind:      document.KindMessage,
		Title:     title,
		Body:      body,
		CreatedTS: time.UnixMicro(1700000000000000),
	}
}

func TestLexicalIndexUpdateAndCount(t *testing.T) {
	idx, _ := lexicalFixture(t)
	ctx := context.Background()

	applied, err := idx.UpdateIncremental(ctx, []document.Change{
		document.Upsert(lexDoc(1, "release planning", "ship the next milestone")),
		document.Upsert(lexDoc(2, "database migration", "schema change rollout")),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	count, err := idx.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestLexicalIndexSearch(t *testing.T) {
	idx, _ := lexicalFixture(t)
	ctx := context.Background()

	_, err := idx.UpdateIncremental(ctx, []document.Change{
		document.Upsert(lexDoc(1, "release planning", "ship the next milestone")),
		document.Upsert(lexDoc(2, "database migration", "schema change rollout")),
	})
	require.NoError(t, err)

	results, err := idx.Search(ctx, "migration", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, document.Key{ID: 2, Kind: document.KindMessage}, results[0].Key)

	empty, err := idx.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLexicalIndexDelete(t *testing.T) {
	idx, _ := lexicalFixture(t)
	ctx := context.Background()

	_, err := idx.UpdateIncremental(ctx, []document.Change{
		document.Upsert(lexDoc(1, "keep me", "staying")),
		document.Upsert(lexDoc(2, "remove me", "going")),
	})
	require.NoError(t, err)

	applied, err := idx.UpdateIncremental(ctx, []document.Change{
		document.Delete(document.Key{ID: 2, Kind: document.KindMessage}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	count, err := idx.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestLexicalIndexRebuildClears(t *testing.T) {
	idx, _ := lexicalFixture(t)
	ctx := context.Background()

	_, err := idx.UpdateIncremental(ctx, []document.Change{
		document.Upsert(lexDoc(1, "before rebuild", "content")),
	})
	require.NoError(t, err)

	require.NoError(t, idx.Rebuild(ctx))
	assert.True(t, idx.Ready())

	count, err := idx.DocCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Index accepts writes after a rebuild.
	_, err = idx.UpdateIncremental(ctx, []document.Change{
		document.Upsert(lexDoc(3, "after rebuild", "content")),
	})
	require.NoError(t, err)
}

func TestLexicalIndexActivatesLink(t *testing.T) {
	idx, layout := lexicalFixture(t)
	assert.Equal(t, idx.Schema().Short(), layout.ActiveSchema(GlobalScope(), EngineLexical))
}

func TestLexicalIndexReopen(t *testing.T) {
	layout := NewLayout(t.TempDir())
	schema := DefaultSchemaHash()
	require.NoError(t, layout.EnsureDirs(GlobalScope(), schema))

	idx, err := NewLexicalIndex(layout, GlobalScope(), schema)
	require.NoError(t, err)
	_, err = idx.UpdateIncremental(context.Background(), []document.Change{
		document.Upsert(lexDoc(1, "durable", "content")),
	})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := NewLexicalIndex(layout, GlobalScope(), schema)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	count, err := reopened.DocCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestLexicalIndexClosed(t *testing.T) {
	idx, _ := lexicalFixture(t)
	require.NoError(t, idx.Close())

	assert.False(t, idx.Ready())
	_, err := idx.UpdateIncremental(context.Background(), []document.Change{
		document.Upsert(lexDoc(1, "x", "y")),
	})
	assert.Error(t, err)

	// Close is idempotent.
	assert.NoError(t, idx.Close())
}

func TestParseDocKey(t *testing.T) {
	key, err := parseDocKey("message:42")
	require.NoError(t, err)
	assert.Equal(t, document.Key{ID: 42, Kind: document.KindMessage}, key)

	_, err = parseDocKey("noseparator")
	assert.Error(t, err)
	_, err = parseDocKey("bogus:1")
	assert.Error(t, err)
	_, err = parseDocKey("message:notanumber")
	assert.Error(t, err)
}
