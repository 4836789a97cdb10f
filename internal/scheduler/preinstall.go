package scheduler

import (
	"context"
	"os"
	"path/filepath"

	"github.com/strata-build/strata/internal/buildererr"
	"github.com/strata-build/strata/internal/catalogue"
	"github.com/strata-build/strata/internal/fstree"
)

// preinstall materialises dep's build output into c's sandbox
// (spec.md §4.4): "recursive dependency materialisation into c's
// sandbox. Idempotent — a sentinel metadata file per installed
// dependency name signals already present. Recurses first into same-mode
// build-depends of dep, then into dep's non-bootstrap contents, then
// assemble(dep), then stages dep's artifact into c's assembly
// directory."
func (s *Scheduler) preinstall(ctx context.Context, c *catalogue.Definition, depName string) error {
	sentinel := filepath.Join(c.Assembly, "baserock", "installed."+sanitiseSentinel(depName))
	if _, err := os.Stat(sentinel); err == nil {
		return nil
	}

	dep, err := catalogue.MustGet(s.Catalogue, depName)
	if err != nil {
		return err
	}

	for _, grandDep := range dep.BuildDepends {
		grandDef, err := catalogue.MustGet(s.Catalogue, grandDep)
		if err != nil {
			return err
		}
		if grandDef.BuildMode == dep.BuildMode {
			if err := s.preinstall(ctx, c, grandDep); err != nil {
				return err
			}
		}
	}

	for _, sub := range dep.Contents {
		subDef, err := catalogue.MustGet(s.Catalogue, sub)
		if err != nil {
			return err
		}
		if subDef.BuildMode != catalogue.ModeBootstrap {
			if err := s.preinstall(ctx, c, sub); err != nil {
				return err
			}
		}
	}

	key, err := s.Assemble(ctx, depName)
	if err != nil {
		return err
	}

	srcDir, err := s.Store.Unpack(key)
	if err != nil {
		return &buildererr.StorageError{Op: "unpack", Key: key, Err: err}
	}

	if err := fstree.HardlinkAll(srcDir, c.Assembly); err != nil {
		return &buildererr.SandboxError{Component: c.Name, Op: "stage " + depName, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(sentinel), 0o755); err != nil {
		return &buildererr.SandboxError{Component: c.Name, Op: "sentinel-dir", Err: err}
	}
	return os.WriteFile(sentinel, []byte(key), 0o644)
}

// sanitiseSentinel maps characters that would conflict with the
// sentinel's own path separators; dependency names can contain slashes
// (e.g. "foo/bar") so this mirrors resolver.SanitiseName's approach of
// substituting a safe placeholder rather than rejecting the name.
func sanitiseSentinel(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
