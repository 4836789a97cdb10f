package sandbox

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/strata-build/strata/internal/buildererr"
)

// assemblyDirs is the fixed skeleton created under <sandbox>/assembly/
// (spec.md §4.5 "Assembly layout").
var assemblyDirs = []string{"dev", "etc", "lib", "usr", "bin", "tmp"}

// PrepareAssembly creates the assembly skeleton directories and the
// /dev/null character device (major 1, minor 3, mode 0666), which
// requires the CAP_MKNOD capability spec.md's privileged-helper design
// note describes — this process is expected to run with that capability,
// or behind a setuid/setcap helper, the same way the original shells out
// to `sudo mknod`.
func PrepareAssembly(assemblyDir string) error {
	for _, d := range assemblyDirs {
		if err := os.MkdirAll(filepath.Join(assemblyDir, d), 0o755); err != nil {
			return &buildererr.SandboxError{Op: "mkdir " + d, Err: err}
		}
	}

	devNull := filepath.Join(assemblyDir, "dev", "null")
	if _, err := os.Stat(devNull); os.IsNotExist(err) {
		dev := unix.Mkdev(1, 3)
		if err := unix.Mknod(devNull, unix.S_IFCHR|0o666, int(dev)); err != nil {
			return &buildererr.SandboxError{Op: "mknod /dev/null", Err: err}
		}
		if err := os.Chmod(devNull, 0o666); err != nil {
			return &buildererr.SandboxError{Op: "chmod /dev/null", Err: err}
		}
	}
	return nil
}
