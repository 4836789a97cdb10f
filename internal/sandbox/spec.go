// Package sandbox constructs the isolated filesystem view for a build
// command and executes it, per spec.md §4.5. The execution model is the
// three-layer invocation spec.md describes: an outer mount-namespace
// unshare, a middle chroot/remount helper, and the inner command itself —
// implemented here as a self-reexec (outer layer via exec.Cmd's
// Cloneflags, middle+inner via Init, invoked in the freshly-unshared
// child before it execs the real command), the idiomatic Go equivalent of
// the original's `unshare ... -- linux-user-chroot ... -- sh -c <cmd>`
// subprocess chain.
package sandbox

// BindMount mounts Source at Dest inside the chroot (e.g. the ccache
// cache directory).
type BindMount struct {
	Source string
	Dest   string
}

// MountSpec is one (target, type, source) mount to perform inside the
// freshly-unshared mount namespace, before the chroot is applied
// (spec.md §4.5 "Outer").
type MountSpec struct {
	Target string
	Type   string
	Source string
}

// RunConfig describes one containerised command invocation (spec.md
// §4.5 "containerised_cmdline" in the original).
type RunConfig struct {
	// Argv is the command to execute inside the sandbox, e.g.
	// []string{"sh", "-c", buildCommand}.
	Argv []string
	// Env replaces these entries in the host environment for the
	// duration of the command (spec.md §4.5 "Environment"); everything
	// else passes through unchanged.
	Env map[string]string

	Cwd           string
	Root          string // chroot root; not used when UseChroot is false (bootstrap mode).
	UseChroot     bool
	WritablePaths []string
	Binds         []BindMount
	Mounts        []MountSpec
	MountProc     bool
	UnshareNet    bool
}
