package metafile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-build/strata/internal/catalogue"
)

func TestWriteChunkMetaWritesSortedContents(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	def := &catalogue.Definition{
		Name:     "coreutils",
		Kind:     catalogue.KindChunk,
		Cache:    "coreutils@deadbeef",
		Contents: []string{"b.txt", "a.txt"},
	}

	require.NoError(t, w.WriteChunkMeta(def))

	buf, err := os.ReadFile(filepath.Join(dir, "coreutils@deadbeef.meta"))
	require.NoError(t, err)

	var got Manifest
	require.NoError(t, json.Unmarshal(buf, &got))
	assert.Equal(t, "coreutils", got.Name)
	assert.Equal(t, []string{"a.txt", "b.txt"}, got.Contents)
}

func TestNilDirIsNoop(t *testing.T) {
	w := New("")
	err := w.WriteChunkMeta(&catalogue.Definition{Name: "x", Cache: "x@y"})
	assert.NoError(t, err)
}

func TestNoopWriterDiscardsWrites(t *testing.T) {
	var w NoopWriter
	assert.NoError(t, w.WriteChunkMeta(&catalogue.Definition{}))
	assert.NoError(t, w.WriteStratumMeta(&catalogue.Definition{}))
}
