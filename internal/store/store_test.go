package store

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildInstallTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "tool"), []byte("#!/bin/sh\necho hi\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hello"), 0o644))
	return dir
}

func readTarEntries(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	return names
}

// Property 3 (spec.md §8): two Put calls over the same resolved inputs
// produce archives whose entry list (and hence byte layout under the
// canonical walk) is identical.
func TestPutIsDeterministicAcrossRuns(t *testing.T) {
	root := buildInstallTree(t)

	dirA := t.TempDir()
	sA, err := New(dirA, "")
	require.NoError(t, err)
	require.NoError(t, sA.Put(PackageInput{Key: "pkg@abc", Root: root}))

	dirB := t.TempDir()
	sB, err := New(dirB, "")
	require.NoError(t, err)
	require.NoError(t, sB.Put(PackageInput{Key: "pkg@abc", Root: root}))

	entriesA := readTarEntries(t, filepath.Join(dirA, "pkg@abc.tar.gz"))
	entriesB := readTarEntries(t, filepath.Join(dirB, "pkg@abc.tar.gz"))
	assert.Equal(t, entriesA, entriesB)
	assert.Equal(t, []string{"README", "bin", "bin/tool"}, entriesA)
}

func TestGetReflectsPresence(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "")
	require.NoError(t, err)

	_, ok := s.Get("missing@key")
	assert.False(t, ok)

	require.NoError(t, s.Put(PackageInput{Key: "present@key", Root: buildInstallTree(t)}))
	path, ok := s.Get("present@key")
	assert.True(t, ok)
	assert.FileExists(t, path)
}

// Property 4 (spec.md §8): Unpack is idempotent — repeated calls return
// the same directory and do not re-extract.
func TestUnpackIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "")
	require.NoError(t, err)
	require.NoError(t, s.Put(PackageInput{Key: "pkg@xyz", Root: buildInstallTree(t)}))

	first, err := s.Unpack("pkg@xyz")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(first, "README"))

	// Touch a marker so a re-extraction (instead of a cache hit) would
	// be observable.
	marker := filepath.Join(first, "marker")
	require.NoError(t, os.WriteFile(marker, []byte("still here"), 0o644))

	second, err := s.Unpack("pkg@xyz")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.FileExists(t, marker)
}
