//go:build linux

package sandbox

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// unshareAttr builds the SysProcAttr that puts the child into a fresh
// mount namespace (always) and, if unshareNet is set, a fresh network
// namespace too (spec.md §4.5 "Outer": "the sandbox always gets its own
// mount namespace; network isolation is per-command").
func unshareAttr(unshareNet bool) *syscall.SysProcAttr {
	flags := uintptr(unix.CLONE_NEWNS)
	if unshareNet {
		flags |= unix.CLONE_NEWNET
	}
	return &syscall.SysProcAttr{
		Cloneflags: flags,
	}
}
