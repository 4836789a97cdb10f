package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// basePath is the fixed staging-mode PATH tail (spec.md §4.5 "PATH
// composition").
var basePath = []string{"/sbin", "/usr/sbin", "/bin", "/usr/bin"}

// ComposePath builds the PATH for a command running in the sandbox.
//
// Staging mode: extraPath followed by the fixed base path.
// Bootstrap mode: each extraPath entry prefixed with assemblyDir,
// followed by the inherited host PATH; if "<assembly>/tools/bin" exists,
// it is prepended to everything.
func ComposePath(staging bool, assemblyDir string, extraPath []string, hostPath string) string {
	var path []string

	if staging {
		path = append(path, extraPath...)
		path = append(path, basePath...)
		return strings.Join(path, ":")
	}

	for _, p := range extraPath {
		path = append(path, filepath.Clean(assemblyDir+p))
	}
	path = append(path, strings.Split(hostPath, ":")...)

	toolsBin := filepath.Join(assemblyDir, "tools", "bin")
	if info, err := os.Stat(toolsBin); err == nil && info.IsDir() {
		path = append([]string{toolsBin}, path...)
	}

	return strings.Join(path, ":")
}
