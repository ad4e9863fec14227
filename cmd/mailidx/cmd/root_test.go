package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mailidx/pkg/version"
)

func TestVersionCmd_DefaultOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	output := buf.String()
	assert.Contains(t, output, "mailidx")
	assert.Contains(t, output, version.Version)
	assert.Contains(t, output, "commit")
}

func TestVersionCmd_ShortOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--short"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version.Version, strings.TrimSpace(buf.String()))
}

func TestVersionCmd_JSONOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	require.NoError(t, cmd.Execute())

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestParseScope(t *testing.T) {
	scope, err := parseScope("global")
	require.NoError(t, err)
	assert.Equal(t, "global", scope.DirName())

	scope, err = parseScope("")
	require.NoError(t, err)
	assert.Equal(t, "global", scope.DirName())

	scope, err = parseScope("project:7")
	require.NoError(t, err)
	assert.Equal(t, "project-7", scope.DirName())
	assert.Equal(t, int64(7), scope.ProjectID())

	scope, err = parseScope("product:3")
	require.NoError(t, err)
	assert.Equal(t, "product-3", scope.DirName())

	_, err = parseScope("bogus")
	assert.Error(t, err)
	_, err = parseScope("project:zero")
	assert.Error(t, err)
	_, err = parseScope("project:-1")
	assert.Error(t, err)
	_, err = parseScope("team:4")
	assert.Error(t, err)
}

func TestRootCmdHasSubcommands(t *testing.T) {
	root := NewRootCmd()
	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"check", "ingest", "reindex", "repair", "worker", "status", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestReadIngestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	payload := `[
		{"id": 1, "kind": "message", "project_id": 2, "title": "hello", "body": "world"},
		{"id": 2, "kind": "thread", "title": "t", "body": "b", "created_ts": 1700000000000000}
	]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	docs, err := readIngestFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, int64(2), docs[0].ProjectID)
	assert.Equal(t, int64(1700000000000000), docs[1].CreatedTS.UnixMicro())
}

func TestReadIngestFileRejectsBadKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":1,"kind":"widget"}]`), 0o644))

	_, err := readIngestFile(path)
	assert.Error(t, err)
}

func TestProgressRendererNonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newProgressRenderer(buf)
	p.update(5, 10)
	p.finish()
	assert.Empty(t, buf.String(), "non-TTY output should stay silent")
}
