package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// InvertPaths walks root top-down and returns every subtree that contains
// none of writablePaths, culling its descendants from further
// consideration, implementing spec.md §4.5.1's read-only inversion: "walk
// the tree top-down and emit, for each subtree that contains none of the
// writable paths, a read-only remount covering it while culling its
// descendants; for files and directories listed explicitly, emit
// nothing. Symlinks are never remounted."
//
// This is the critical invariant (spec.md §8 property 5): every path
// under root is a writable path, a descendant of one, a directory that
// has a writable path somewhere beneath it (left writable so that path
// stays writable), or covered by a path InvertPaths returns — never
// silently dropped.
func InvertPaths(root string, writablePaths []string) ([]string, error) {
	norm := make([]string, len(writablePaths))
	for i, p := range writablePaths {
		norm[i] = normPath(p)
	}

	var results []string
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())

			if pathIsListed(full, norm) {
				// Exact match: emit nothing, no need to recurse.
				continue
			}

			if e.IsDir() {
				info, err := os.Lstat(full)
				if err != nil {
					return err
				}
				if info.Mode()&os.ModeSymlink != 0 {
					// Symlinks are never remounted (spec.md §4.5.1).
					continue
				}
				if anyPathIsSubpathOf(full, norm) {
					// A writable path lives somewhere under here: leave
					// this directory writable, but keep looking inside.
					if err := walk(full); err != nil {
						return err
					}
					continue
				}
				// Not a parent of, nor equal to, any writable path:
				// the whole subtree can be made read-only. Cull.
				results = append(results, full)
				continue
			}

			// A file not explicitly listed as writable: skip symlinks too
			// (spec.md §4.5.1, "Symlinks are never remounted").
			info, err := os.Lstat(full)
			if err != nil {
				return err
			}
			if info.Mode()&os.ModeSymlink != 0 {
				continue
			}
			results = append(results, full)
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return results, nil
}

func normPath(p string) string {
	if p == "." {
		return p
	}
	return filepath.Clean(p)
}

func pathIsListed(path string, writable []string) bool {
	np := normPath(path)
	for _, w := range writable {
		if np == w {
			return true
		}
	}
	return false
}

func anyPathIsSubpathOf(prefix string, writable []string) bool {
	np := normPath(prefix)
	for _, w := range writable {
		if w == np || strings.HasPrefix(w, np+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
