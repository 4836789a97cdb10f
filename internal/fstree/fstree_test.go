package fstree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCopyAllPreservesContentsAndSymlinks(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	writeFile(t, filepath.Join(src, "a", "b.txt"), "hello")
	require.NoError(t, os.Symlink("b.txt", filepath.Join(src, "a", "link")))

	require.NoError(t, CopyAll(src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	target, err := os.Readlink(filepath.Join(dst, "a", "link"))
	require.NoError(t, err)
	assert.Equal(t, "b.txt", target)
}

func TestHardlinkAllSharesInode(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "f.txt"), "data")

	require.NoError(t, HardlinkAll(src, dst))

	srcInfo, err := os.Stat(filepath.Join(src, "f.txt"))
	require.NoError(t, err)
	dstInfo, err := os.Stat(filepath.Join(dst, "f.txt"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(srcInfo, dstInfo))
}

// Directories are processed bottom-up so a parent directory's own mtime
// survives the writes to its children (spec.md §4.7).
func TestSetMtimeRecursivelyBottomUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub", "f.txt"), "x")

	require.NoError(t, SetMtimeRecursively(root, MagicTimestamp))

	for _, p := range []string{root, filepath.Join(root, "sub"), filepath.Join(root, "sub", "f.txt")} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(MagicTimestamp), "mtime of %s not normalised", p)
	}
}

func TestSetMtimeRecursivelySkipsBrokenSymlinks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(root, "does-not-exist"), filepath.Join(root, "broken")))

	err := SetMtimeRecursively(root, MagicTimestamp)
	assert.NoError(t, err)
}
