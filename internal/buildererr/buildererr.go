// Package buildererr defines the fatal-error taxonomy of spec.md §7 as
// concrete, wrappable Go error types, in place of the bare excepts and
// SystemExit calls the original implementation relies on.
package buildererr

import "fmt"

// DefinitionMissing is returned when a name has no entry in the catalogue.
type DefinitionMissing struct {
	Name string
}

func (e *DefinitionMissing) Error() string {
	return fmt.Sprintf("no definition found for %q", e.Name)
}

// SourceUnresolvable is returned when a (repo, ref) pair cannot be resolved
// to a tree identity, by any mirror or remote cache-server.
type SourceUnresolvable struct {
	Component string
	Repo      string
	Ref       string
	Err       error
}

func (e *SourceUnresolvable) Error() string {
	return fmt.Sprintf("could not resolve tree for %s (repo=%s ref=%s): %v", e.Component, e.Repo, e.Ref, e.Err)
}

func (e *SourceUnresolvable) Unwrap() error { return e.Err }

// BuildFailed is returned when a recipe command exits non-zero.
type BuildFailed struct {
	Component string
	Command   string
	Dir       string
	Err       error
}

func (e *BuildFailed) Error() string {
	return fmt.Sprintf("build of %s failed: command %q in %s: %v", e.Component, e.Command, e.Dir, e.Err)
}

func (e *BuildFailed) Unwrap() error { return e.Err }

// StorageError is returned on artifact store I/O failure.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact store: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SandboxError is returned on namespace/chroot/mount setup failure.
type SandboxError struct {
	Component string
	Op        string
	Err       error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s for %s: %v", e.Op, e.Component, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// CatalogueError signals a malformed catalogue: a cycle in the dependency
// graph, or a structurally invalid definition.
type CatalogueError struct {
	Name string
	Msg  string
}

func (e *CatalogueError) Error() string {
	return fmt.Sprintf("catalogue error at %q: %s", e.Name, e.Msg)
}

// Retry is a non-fatal control-flow signal: the claim on a cache key is
// held by another worker. It is a plain returned value (spec.md §9 Design
// Notes), consumed inside the scheduler's retry loop — never panicked or
// propagated to the caller of Assemble.
type Retry struct {
	Key string
}

func (e *Retry) Error() string {
	return fmt.Sprintf("claim on %s held by another worker", e.Key)
}
