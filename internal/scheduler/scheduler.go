// Package scheduler implements the assembly scheduler of spec.md §4.4:
// recursive, re-entrant cache-key-driven assembly of a component and its
// transitive dependencies, safe against concurrent sibling processes via
// filesystem locks.
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/strata-build/strata/internal/buildererr"
	"github.com/strata-build/strata/internal/cachekey"
	"github.com/strata-build/strata/internal/catalogue"
	"github.com/strata-build/strata/internal/logging"
	"github.com/strata-build/strata/internal/metrics"
	"github.com/strata-build/strata/internal/resolver"
	"github.com/strata-build/strata/internal/sandbox"
	"github.com/strata-build/strata/internal/store"
	"github.com/strata-build/strata/internal/strataconf"
)

var log = logging.New("scheduler")

// MetadataWriter is the scheduler's hook for emitting chunk/stratum
// manifests (SPEC_FULL.md §C.3); spec.md treats metadata emission as out
// of scope, but the scheduler still needs somewhere to call.
type MetadataWriter interface {
	WriteChunkMeta(def *catalogue.Definition) error
	WriteStratumMeta(def *catalogue.Definition) error
}

// Builder runs a definition's recipe inside the sandbox (spec.md §4.5);
// it is the scheduler's seam onto internal/sandbox so tests can supply a
// fake.
type Builder interface {
	Build(ctx context.Context, def *catalogue.Definition, cfg *strataconf.Context) error
}

// Scheduler owns all the collaborators assemble/preinstall/do_build need:
// the definition store, the cache key engine, the resolver, the artifact
// store, the sandbox builder, and the metadata/metrics sinks.
type Scheduler struct {
	Catalogue catalogue.Store
	Keys      *cachekey.Engine
	Resolver  *resolver.Resolver
	Store     *store.Store
	Builder   Builder
	Meta      MetadataWriter
	Config    *strataconf.Context

	Counter *metrics.Counter
	Timer   *metrics.Timer

	lastRetry time.Time
}

// New wires the default collaborators for a given config and definition
// store.
func New(cfg *strataconf.Context, cat catalogue.Store) *Scheduler {
	res := resolver.New(cfg.Gits, cfg.CacheServerURL)
	keys := cachekey.New(cat, res, cfg.Arch)
	art, err := store.New(cfg.Artifacts, cfg.KBASURL)
	if err != nil {
		// Artifact directory creation failures are fatal at startup,
		// surfaced via Assemble's first cache-key/store call instead of
		// panicking here; New intentionally does not return an error to
		// match the teacher's constructor style (logger + struct, no
		// error-returning wiring step).
		log.Errorf("artifact store init: %v", err)
	}
	return &Scheduler{
		Catalogue: cat,
		Keys:      keys,
		Resolver:  res,
		Store:     art,
		Builder:   &sandboxBuilder{resolver: res},
		Meta:      nil,
		Config:    cfg,
		Counter:   metrics.NewCounter(),
		Timer:     metrics.NewTimer(),
	}
}

// Assemble implements spec.md §4.4's algorithm for component name c:
// produce (or confirm) a cached artifact and return its cache key.
func (s *Scheduler) Assemble(ctx context.Context, name string) (string, error) {
	def, err := catalogue.MustGet(s.Catalogue, name)
	if err != nil {
		return "", err
	}

	key, err := s.Keys.CacheKey(ctx, name)
	if err != nil {
		return "", err
	}

	if s.Store == nil {
		return "", &buildererr.StorageError{Op: "init", Key: s.Config.Artifacts, Err: errors.New("artifact store could not be initialised")}
	}

	if _, ok := s.Store.Get(key); ok {
		return key, nil
	}

	if s.Config.KBASURL != "" {
		if pulled, err := s.pullRemoteUnderClaim(ctx, key); err != nil {
			return "", err
		} else if pulled {
			return key, nil
		}
	}

	if def.Arch != "" && def.Arch != s.Config.Arch {
		log.Infof("%s: arch %s does not match host %s, skipping", name, def.Arch, s.Config.Arch)
		return key, nil
	}

	sandboxDir, err := s.initSandbox(def)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(sandboxDir)
	s.Config.AddSandbox(sandboxDir)
	defer s.Config.RemoveSandbox(sandboxDir)

	for _, idx := range randomOrder(len(def.Systems)) {
		sys := def.Systems[idx]
		if _, err := s.Assemble(ctx, sys.Path); err != nil {
			return "", err
		}
		for _, subIdx := range randomOrder(len(sys.Subsystems)) {
			if _, err := s.Assemble(ctx, sys.Subsystems[subIdx]); err != nil {
				return "", err
			}
		}
	}

	for _, dep := range def.BuildDepends {
		if err := s.preinstall(ctx, def, dep); err != nil {
			return "", err
		}
	}

	for _, idx := range randomOrder(len(def.Contents)) {
		subName := def.Contents[idx]
		subDef, err := catalogue.MustGet(s.Catalogue, subName)
		if err != nil {
			return "", err
		}
		if subDef.BuildMode != catalogue.ModeBootstrap {
			if err := s.preinstall(ctx, def, subName); err != nil {
				return "", err
			}
		}
	}

	if len(def.Systems) == 0 {
		if _, ok := s.Store.Get(key); !ok {
			if err := s.buildUnderClaim(ctx, def); err != nil {
				return "", err
			}
		}
	}

	return key, nil
}

// initSandbox creates the per-component ephemeral sandbox directory tree
// (spec.md §6 "<sandbox>/ per-component ephemeral; contains assembly/,
// build/, install/") and records the runtime paths on def.
func (s *Scheduler) initSandbox(def *catalogue.Definition) (string, error) {
	base := filepath.Join(s.Config.Tmp, "sandbox-"+strings.ReplaceAll(def.Name, "/", "-"))
	def.Sandbox = base
	def.Assembly = filepath.Join(base, "assembly")
	// Build/Install live under Assembly (the chroot root) so they are
	// still reachable as e.g. "/…build" after unix.Chroot(def.Assembly);
	// siblings of Assembly would vanish from the mount namespace once the
	// chroot takes effect.
	def.Build = filepath.Join(def.Assembly, "tmp", "build")
	def.Install = filepath.Join(def.Assembly, "tmp", "inst")
	def.Log = s.Store.LogPath(def.Cache)

	if err := sandbox.PrepareAssembly(def.Assembly); err != nil {
		return "", err
	}
	for _, d := range []string{def.Build, def.Install} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", &buildererr.SandboxError{Component: def.Name, Op: "mkdir " + d, Err: err}
		}
	}
	return base, nil
}

// randomOrder returns a randomised permutation of [0, n), implementing
// spec.md §4.4's "randomised order" traversal of systems/contents
// siblings, which spreads lock contention across parallel workers
// competing for the same targets. The cache key is invariant under this
// reordering (spec.md §5), so the choice of order has no effect beyond
// scheduling.
func randomOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rand.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

func (s *Scheduler) pullRemoteUnderClaim(ctx context.Context, key string) (bool, error) {
	claim, err := AcquireClaim(filepath.Join(s.Config.Tmp, key+".lock"), s.Config.Timeout)
	if err != nil {
		if _, ok := err.(*buildererr.Retry); ok {
			return false, nil
		}
		return false, err
	}
	defer claim.Release()

	ok, err := s.Store.PullRemote(ctx, key)
	if err != nil {
		return false, &buildererr.StorageError{Op: "pull-remote", Key: key, Err: err}
	}
	return ok, nil
}

func (s *Scheduler) buildUnderClaim(ctx context.Context, def *catalogue.Definition) error {
	claim, err := AcquireClaim(filepath.Join(s.Config.Tmp, def.Cache+".lock"), s.Config.Timeout)
	if err != nil {
		retry, ok := err.(*buildererr.Retry)
		if !ok {
			return err
		}
		return s.handleRetry(ctx, def, retry)
	}
	defer claim.Release()

	buildErr := s.doBuild(ctx, def)
	if buildErr == nil {
		return nil
	}
	if s.Config.MultiWorker() {
		log.Errorf("%s: build failed, will retry on next pass: %v", def.Name, buildErr)
		return nil
	}
	return buildErr
}

// handleRetry implements spec.md §4.4's Claim retry handler: if the last
// retry happened within the last second, wait on a shared lock (bounded
// by the configured timeout) before trying again; otherwise retry
// immediately. Either way, working sandbox directories are removed
// between retries.
func (s *Scheduler) handleRetry(ctx context.Context, def *catalogue.Definition, retry *buildererr.Retry) error {
	now := time.Now()
	immediate := now.Sub(s.lastRetry) > time.Second
	s.lastRetry = now

	lockPath := filepath.Join(s.Config.Tmp, retry.Key+".lock")
	if !immediate {
		if err := WaitShared(lockPath, s.Config.Timeout); err != nil {
			log.Debugf("%s: shared-lock wait timed out: %v", def.Name, err)
		}
	}

	for _, dir := range s.Config.Sandboxes() {
		os.RemoveAll(dir)
	}

	return s.buildUnderClaim(ctx, def)
}
