package index

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/Aman-CERP/mailidx/internal/errors"
)

func TestFullReindexAppliesAllDocuments(t *testing.T) {
	source := &fakeSource{docs: makeDocs(1050)}
	lc := &fakeLifecycle{ready: true, schema: "aaaa"}
	layout := NewLayout(t.TempDir())
	r := NewReindexer(source, lc, layout, GlobalScope())

	result, err := r.FullReindex(context.Background(), ReindexConfig{BatchSize: 500, WriteCheckpoint: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, lc.rebuilds)
	assert.Equal(t, 1050, result.Stats.DocsIndexed)
	assert.Len(t, lc.applied, 1050)
	assert.True(t, result.CheckpointWritten)

	cp, err := ReadCheckpoint(layout.LexicalDir(GlobalScope(), lc.schema))
	require.NoError(t, err)
	assert.Equal(t, 1050, cp.DocsIndexed)
	assert.True(t, cp.Success)
	require.NotNil(t, cp.CompletedTS)
	// Max version is the newest document's created timestamp.
	assert.Equal(t, source.docs[1049].CreatedTS.UnixMicro(), cp.MaxVersion)
}

func TestFullReindexProgress(t *testing.T) {
	source := &fakeSource{docs: makeDocs(25)}
	lc := &fakeLifecycle{ready: true, schema: "aaaa"}
	r := NewReindexer(source, lc, NewLayout(t.TempDir()), GlobalScope())

	var calls [][2]int
	_, err := r.FullReindex(context.Background(), ReindexConfig{BatchSize: 10, WriteCheckpoint: false},
		func(indexed, total int) { calls = append(calls, [2]int{indexed, total}) })
	require.NoError(t, err)

	// Initial zero report plus one per page.
	require.Len(t, calls, 4)
	assert.Equal(t, [2]int{0, 25}, calls[0])
	assert.Equal(t, [2]int{25, 25}, calls[3])
}

func TestFullReindexEmptySource(t *testing.T) {
	source := &fakeSource{}
	lc := &fakeLifecycle{ready: true, schema: "aaaa"}
	r := NewReindexer(source, lc, NewLayout(t.TempDir()), GlobalScope())

	result, err := r.FullReindex(context.Background(), DefaultReindexConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, lc.rebuilds)
	assert.Zero(t, result.Stats.DocsIndexed)
	assert.True(t, result.CheckpointWritten)
}

func TestFullReindexSkipsCheckpoint(t *testing.T) {
	source := &fakeSource{docs: makeDocs(5)}
	lc := &fakeLifecycle{ready: true, schema: "aaaa"}
	layout := NewLayout(t.TempDir())
	r := NewReindexer(source, lc, layout, GlobalScope())

	result, err := r.FullReindex(context.Background(), ReindexConfig{BatchSize: 500, WriteCheckpoint: false}, nil)
	require.NoError(t, err)

	assert.False(t, result.CheckpointWritten)
	_, err = ReadCheckpoint(layout.LexicalDir(GlobalScope(), lc.schema))
	assert.Error(t, err)
}

func TestFullReindexRebuildFailure(t *testing.T) {
	source := &fakeSource{docs: makeDocs(5)}
	lc := &fakeLifecycle{ready: true, schema: "aaaa", rebuildErr: fmt.Errorf("disk full")}
	r := NewReindexer(source, lc, NewLayout(t.TempDir()), GlobalScope())

	_, err := r.FullReindex(context.Background(), DefaultReindexConfig(), nil)
	assert.ErrorContains(t, err, "disk full")
}

func TestFullReindexFetchFailure(t *testing.T) {
	source := &fakeSource{docs: makeDocs(5), fetchErr: fmt.Errorf("db locked")}
	lc := &fakeLifecycle{ready: true, schema: "aaaa"}
	r := NewReindexer(source, lc, NewLayout(t.TempDir()), GlobalScope())

	_, err := r.FullReindex(context.Background(), DefaultReindexConfig(), nil)
	assert.ErrorContains(t, err, "db locked")
}

func TestFullReindexLockContention(t *testing.T) {
	source := &fakeSource{docs: makeDocs(3)}
	lc := &fakeLifecycle{ready: true, schema: "aaaa"}
	layout := NewLayout(t.TempDir())
	r := NewReindexer(source, lc, layout, GlobalScope())

	require.NoError(t, os.MkdirAll(layout.ScopeDir(GlobalScope()), 0o755))
	held := flock.New(r.lockPath())
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = held.Unlock() }()

	_, err = r.FullReindex(context.Background(), DefaultReindexConfig(), nil)
	var me *merrors.MailError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, merrors.ErrCodeReindexInProgress, me.Code)
	assert.True(t, merrors.IsRetryable(me))
	assert.Equal(t, 0, lc.rebuilds)
}

func TestRepairIfNeededHealthy(t *testing.T) {
	source := &fakeSource{docs: makeDocs(10)}
	lc := &fakeLifecycle{ready: true, schema: "aaaa", docCount: 10}
	layout := NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs(GlobalScope(), lc.schema))

	// Seed a completed checkpoint so the check passes cleanly.
	r := NewReindexer(source, lc, layout, GlobalScope())
	_, err := r.FullReindex(context.Background(), DefaultReindexConfig(), nil)
	require.NoError(t, err)
	lc.docCount = 10
	rebuildsBefore := lc.rebuilds

	report, result, err := r.RepairIfNeeded(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Healthy)
	assert.Nil(t, result)
	assert.Equal(t, rebuildsBefore, lc.rebuilds)
}

func TestRepairIfNeededRebuilds(t *testing.T) {
	source := &fakeSource{docs: makeDocs(20)}
	lc := &fakeLifecycle{ready: false, schema: "aaaa", docCount: 0}
	layout := NewLayout(t.TempDir())
	r := NewReindexer(source, lc, layout, GlobalScope())

	report, result, err := r.RepairIfNeeded(context.Background())
	require.NoError(t, err)

	assert.True(t, report.RebuildRecommended)
	require.NotNil(t, result)
	assert.Equal(t, 20, result.Stats.DocsIndexed)
	assert.Equal(t, 1, lc.rebuilds)
}
