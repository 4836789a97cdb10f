package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/strata-build/strata/internal/buildererr"
	"github.com/strata-build/strata/internal/catalogue"
	"github.com/strata-build/strata/internal/resolver"
	"github.com/strata-build/strata/internal/sandbox"
	"github.com/strata-build/strata/internal/store"
	"github.com/strata-build/strata/internal/strataconf"
)

// canonicalSteps is the default step order the recipe library defines
// (spec.md §4.4 "Recipe resolution"); scheduler owns only the order, not
// the per-build-system command lists themselves, which live on each
// Definition as loaded by the catalogue collaborator.
var canonicalSteps = []string{
	"configure-commands",
	"build-commands",
	"install-commands",
	"strip-commands",
	"check-commands",
}

// doBuild dispatches on def.Kind (spec.md §4.4):
//   - chunk:    run the recipe, emit chunk metadata, package and store.
//   - stratum:  emit stratum metadata, package.
//   - system:   package the full assembly, not just install.
//   - cluster:  no build step; purely aggregate.
func (s *Scheduler) doBuild(ctx context.Context, def *catalogue.Definition) error {
	s.Timer.Start(def.Name)
	defer func() {
		elapsed := s.Timer.Stop(def.Name)
		log.Infof("%s: built in %s", def.Name, elapsed)
	}()
	s.Counter.Increment("builds")

	switch def.Kind {
	case catalogue.KindCluster:
		return nil

	case catalogue.KindChunk:
		if err := s.runRecipe(ctx, def); err != nil {
			return err
		}
		if err := s.writeMeta(def, false); err != nil {
			return err
		}
		return s.packageAndStore(def, def.Install, false)

	case catalogue.KindStratum:
		if err := s.writeMeta(def, true); err != nil {
			return err
		}
		return s.packageAndStore(def, def.Install, false)

	case catalogue.KindSystem:
		return s.packageAndStore(def, def.Assembly, true)

	default:
		return &buildererr.CatalogueError{Name: def.Name, Msg: fmt.Sprintf("unknown kind %q", def.Kind)}
	}
}

func (s *Scheduler) writeMeta(def *catalogue.Definition, stratum bool) error {
	if s.Meta == nil {
		return nil
	}
	if stratum {
		return s.Meta.WriteStratumMeta(def)
	}
	return s.Meta.WriteChunkMeta(def)
}

func (s *Scheduler) packageAndStore(def *catalogue.Definition, root string, system bool) error {
	return s.Store.Put(store.PackageInput{Key: def.Cache, Root: root, System: system})
}

// runRecipe resolves def's source tree, resolves its recipe's command
// lists per step, runs ldconfig-before-build for non-bootstrap
// components (SPEC_FULL.md §C.4), then runs each step in order inside
// the sandbox.
func (s *Scheduler) runRecipe(ctx context.Context, def *catalogue.Definition) error {
	if def.Repo != "" {
		if err := s.Resolver.Checkout(ctx, def.Repo, refOrTree(def), def.Build); err != nil {
			return &buildererr.SourceUnresolvable{Component: def.Name, Repo: def.Repo, Ref: refOrTree(def), Err: err}
		}
		if subs, err := s.Resolver.ResolveSubmodules(ctx, def.Build, refOrTree(def)); err != nil {
			return &buildererr.SourceUnresolvable{Component: def.Name, Repo: def.Repo, Ref: refOrTree(def), Err: err}
		} else {
			for _, sm := range subs {
				log.Debugf("%s: submodule %s at %s", def.Name, sm.Path, sm.Commit)
			}
		}
	}

	if def.BuildMode != catalogue.ModeBootstrap {
		if err := s.runLdconfig(ctx, def); err != nil {
			return err
		}
	}

	for _, step := range canonicalSteps {
		cmds := def.CommandLists[step]
		for _, cmd := range cmds {
			if err := s.Builder.Build(ctx, stepDefinition(def, cmd), s.Config); err != nil {
				return err
			}
		}
	}
	return nil
}

// runLdconfig runs a plain ldconfig inside the component's sandbox
// (chrooted into its assembly) before the recipe's own commands, for
// non-bootstrap components
// (SPEC_FULL.md §C.4, grounded on the original's assembly.py:build
// calling ldconfig ahead of each chunk's configure/build/install).
func (s *Scheduler) runLdconfig(ctx context.Context, def *catalogue.Definition) error {
	return s.Builder.Build(ctx, stepDefinition(def, "ldconfig"), s.Config)
}

func refOrTree(def *catalogue.Definition) string {
	if def.Tree != "" {
		return def.Tree
	}
	return def.Ref
}

// stepDefinition is a shallow copy of def carrying one literal command,
// used so Builder.Build's signature stays (def, cfg) without a separate
// command parameter muddying the Builder interface.
func stepDefinition(def *catalogue.Definition, command string) *catalogue.Definition {
	cp := *def
	cp.CommandLists = map[string][]string{"__step__": {command}}
	return &cp
}

// sandboxBuilder is the default Builder: it runs one literal command
// inside internal/sandbox's chroot per spec.md §4.5.
type sandboxBuilder struct {
	resolver *resolver.Resolver
}

func (b *sandboxBuilder) Build(ctx context.Context, def *catalogue.Definition, cfg *strataconf.Context) error {
	command := def.CommandLists["__step__"][0]
	staging := def.BuildMode != catalogue.ModeBootstrap

	writable := []string{
		def.Build,
		def.Install,
		filepath.Join(def.Assembly, "dev"),
		filepath.Join(def.Assembly, "proc"),
		filepath.Join(def.Assembly, "tmp"),
	}
	env := map[string]string{
		"PATH": sandbox.ComposePath(staging, def.Assembly, nil, os.Getenv("PATH")),
	}

	var binds []sandbox.BindMount
	if cfg.CCacheDir != "" && !cfg.NoCCache {
		ccacheTarget := filepath.Join(def.Assembly, "tmp", "ccache")
		binds = append(binds, sandbox.BindMount{Source: cfg.CCacheDir, Dest: ccacheTarget})
		writable = append(writable, ccacheTarget)
	}

	var mounts []sandbox.MountSpec
	if staging {
		mounts = append(mounts, sandbox.MountSpec{
			Target: filepath.Join(def.Assembly, "dev", "shm"),
			Type:   "tmpfs",
			Source: "none",
		})
	}

	runCfg := sandbox.RunConfig{
		Argv:          []string{"sh", "-c", command},
		Env:           env,
		Cwd:           def.Build,
		Root:          def.Assembly,
		UseChroot:     staging,
		WritablePaths: writable,
		Binds:         binds,
		Mounts:        mounts,
		MountProc:     staging,
	}

	return sandbox.Run(runCfg, def.Name, command, def.Log)
}
