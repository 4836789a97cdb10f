package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTree creates root/a/keep/x, root/a/other/y, root/b/z.
func buildTree(t *testing.T, root string) {
	t.Helper()
	for _, p := range []string{
		filepath.Join(root, "a", "keep", "x"),
		filepath.Join(root, "a", "other", "y"),
		filepath.Join(root, "b", "z"),
	} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
}

// Property 5 (spec.md §8): every path under root is a descendant of a
// writable path, a writable path itself, a directory containing one (like
// root itself), or yielded by the inverter — never silently dropped.
func TestInvertPathsSoundness(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	writable := []string{filepath.Join(root, "a", "keep")}
	results, err := InvertPaths(root, writable)
	require.NoError(t, err)

	var allPaths []string
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if path == root {
			return nil
		}
		allPaths = append(allPaths, path)
		return nil
	})

	for _, p := range allPaths {
		if isUnder(p, writable[0]) || p == writable[0] || isUnder(writable[0], p) {
			continue
		}
		assert.True(t, coveredBy(p, results), "path %s neither writable nor returned", p)
	}
}

func TestInvertPathsCullsSubtrees(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	results, err := InvertPaths(root, []string{filepath.Join(root, "a", "keep")})
	require.NoError(t, err)

	assert.Contains(t, results, filepath.Join(root, "a", "other"))
	assert.Contains(t, results, filepath.Join(root, "b"))
	assert.NotContains(t, results, filepath.Join(root, "a", "other", "y"))
}

func TestInvertPathsNeverRemountsSymlinkDirs(t *testing.T) {
	root := t.TempDir()
	realDir := filepath.Join(root, "real")
	require.NoError(t, os.MkdirAll(realDir, 0o755))
	require.NoError(t, os.Symlink(realDir, filepath.Join(root, "link")))

	results, err := InvertPaths(root, nil)
	require.NoError(t, err)

	assert.NotContains(t, results, filepath.Join(root, "link"))
}

func isUnder(path, parent string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel != ".." && rel[0] != '.'
}

func coveredBy(path string, results []string) bool {
	for _, r := range results {
		if path == r || isUnder(path, r) {
			return true
		}
	}
	return false
}
