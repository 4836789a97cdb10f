// Package strataconf holds the process-wide settings of spec.md §6 as an
// explicit struct threaded through the resolver, cache key engine, sandbox
// builder and scheduler, rather than a global settings dict (spec.md §9
// Design Note: "Global settings... replace with an explicit context
// value").
package strataconf

import (
	"path/filepath"
	"sync"
	"time"
)

// Context carries every setting the core subsystems consume. It is built
// once in cmd/strata and passed by pointer; callers that mutate Sandboxes
// must go through AddSandbox/RemoveSandbox, which are safe for concurrent
// use within one process.
type Context struct {
	Arch string

	Artifacts string
	Gits      string
	Tmp       string
	Assembly  string

	CacheServerURL string
	KBASURL        string

	CCacheDir string
	NoCCache  bool

	Timeout   time.Duration
	Instances int

	LogVerbose bool

	mu        sync.Mutex
	sandboxes map[string]struct{}
}

// New returns a Context with directories resolved to absolute paths and
// sane defaults (single worker, 60s shared-lock timeout) matching spec.md
// §5's "configured timeout (default 60 seconds)".
func New(workdir, arch string) (*Context, error) {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		return nil, err
	}
	return &Context{
		Arch:      arch,
		Artifacts: filepath.Join(abs, "artifacts"),
		Gits:      filepath.Join(abs, "gits"),
		Tmp:       filepath.Join(abs, "tmp"),
		Assembly:  filepath.Join(abs, "assembly"),
		Timeout:   60 * time.Second,
		Instances: 1,
		sandboxes: make(map[string]struct{}),
	}, nil
}

// AddSandbox records dir as an active sandbox directory, so that a retry
// handler elsewhere in the process can remove every in-flight sandbox
// between claim retries (spec.md §4.4).
func (c *Context) AddSandbox(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sandboxes[dir] = struct{}{}
}

// RemoveSandbox drops dir from the active set once it has been cleaned up.
func (c *Context) RemoveSandbox(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sandboxes, dir)
}

// Sandboxes returns a snapshot of every currently-registered sandbox
// directory.
func (c *Context) Sandboxes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sandboxes))
	for d := range c.sandboxes {
		out = append(out, d)
	}
	return out
}

// MultiWorker reports whether more than one build worker is configured
// (spec.md §4.4 step 9: exceptions inside a claim are only swallowed when
// instances > 1).
func (c *Context) MultiWorker() bool { return c.Instances > 1 }
