package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// Init is the middle+inner layer of the three-layer invocation (see the
// package doc comment). It runs inside the freshly-unshared child
// process produced by Run: it reads its RunConfig from the environment,
// performs the mounts and chroot, applies the environment swap, and
// finally execs the real command. It never returns on success.
func Init() error {
	encoded := os.Getenv(specEnvVar)
	if encoded == "" {
		return fmt.Errorf("sandbox: %s not set in reexec'd process", specEnvVar)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("sandbox: decoding spec: %w", err)
	}
	var cfg RunConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("sandbox: unmarshalling spec: %w", err)
	}

	if err := makeMountsPrivate(); err != nil {
		return err
	}

	for _, m := range cfg.Mounts {
		if err := performMount(m); err != nil {
			return err
		}
	}

	for _, b := range cfg.Binds {
		if err := bindMount(b.Source, b.Dest); err != nil {
			return err
		}
	}

	if cfg.MountProc {
		procDir := filepath.Join(cfg.Root, "proc")
		if err := os.MkdirAll(procDir, 0o755); err != nil {
			return fmt.Errorf("sandbox: mkdir proc: %w", err)
		}
		if err := unix.Mount("proc", procDir, "proc", 0, ""); err != nil {
			return fmt.Errorf("sandbox: mount proc: %w", err)
		}
	}

	if cfg.UseChroot {
		ro, err := InvertPaths(cfg.Root, cfg.WritablePaths)
		if err != nil {
			return fmt.Errorf("sandbox: computing read-only inversion: %w", err)
		}
		for _, p := range ro {
			if err := remountReadOnly(p); err != nil {
				return fmt.Errorf("sandbox: read-only remount %s: %w", p, err)
			}
		}

		if err := unix.Chroot(cfg.Root); err != nil {
			return fmt.Errorf("sandbox: chroot %s: %w", cfg.Root, err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("sandbox: chdir /: %w", err)
		}
	}

	if cfg.Cwd != "" {
		if err := os.Chdir(cfg.Cwd); err != nil {
			return fmt.Errorf("sandbox: chdir %s: %w", cfg.Cwd, err)
		}
	}

	env := swapEnv(os.Environ(), cfg.Env)

	argv0, err := exec.LookPath(cfg.Argv[0])
	if err != nil {
		argv0 = cfg.Argv[0]
	}
	return syscall.Exec(argv0, cfg.Argv, env)
}

// makeMountsPrivate remounts / as rprivate so that nothing this process
// mounts leaks back out to the host's mount table (spec.md §4.5
// "Outer").
func makeMountsPrivate() error {
	if err := unix.Mount("none", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("sandbox: making / rprivate: %w", err)
	}
	return nil
}

func performMount(m MountSpec) error {
	if err := os.MkdirAll(m.Target, 0o755); err != nil {
		return fmt.Errorf("sandbox: mkdir mount target %s: %w", m.Target, err)
	}
	if err := unix.Mount(m.Source, m.Target, m.Type, 0, ""); err != nil {
		return fmt.Errorf("sandbox: mount %s (%s): %w", m.Target, m.Type, err)
	}
	return nil
}

func bindMount(source, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("sandbox: mkdir bind target %s: %w", dest, err)
	}
	if err := unix.Mount(source, dest, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("sandbox: bind mount %s -> %s: %w", source, dest, err)
	}
	return nil
}

// remountReadOnly bind-mounts path onto itself then remounts it
// read-only, the standard two-step for making an existing mount
// read-only without affecting siblings (spec.md §4.5.1).
func remountReadOnly(path string) error {
	if err := unix.Mount(path, path, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
	if err := unix.Mount(path, path, "", flags, ""); err != nil {
		return fmt.Errorf("remount ro: %w", err)
	}
	return nil
}

// swapEnv applies overrides on top of base, preserving every entry not
// named in overrides (spec.md §4.5 "Environment": "swap in the build
// environment, restore the host environment afterwards" — restoration
// is automatic here since the swap only ever affects the reexec'd
// child's own environment, never the parent's).
func swapEnv(base []string, overrides map[string]string) []string {
	seen := make(map[string]bool, len(overrides))
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key := kv
		if i := indexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if v, ok := overrides[key]; ok {
			out = append(out, key+"="+v)
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		if !seen[k] {
			out = append(out, k+"="+v)
		}
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
