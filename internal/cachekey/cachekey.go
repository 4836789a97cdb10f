// Package cachekey implements the cache key engine of spec.md §4.1: a
// deterministic, recursive hash over a component's source tree identity,
// architecture, build recipe and the cache keys of every transitive
// dependency.
package cachekey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/strata-build/strata/internal/buildererr"
	"github.com/strata-build/strata/internal/catalogue"
	"github.com/strata-build/strata/internal/logging"
)

var log = logging.New("cachekey")

// TreeResolver resolves a (repo, ref) pair to an immutable tree identity.
// internal/resolver.Resolver satisfies this; kept as a narrow interface
// here so the cache key engine does not import the resolver's git/network
// machinery.
type TreeResolver interface {
	ResolveTree(ctx context.Context, repo, ref string) (string, error)
}

// Engine computes and memoises cache keys. Lookups go through an explicit
// memo table owned by the Engine. Once computed, the resolved tree and the
// cache key are also recorded on the Definition (Tree and Cache), where
// the scheduler reads the key.
type Engine struct {
	Store    catalogue.Store
	Resolver TreeResolver
	Arch     string

	mu         sync.Mutex
	memo       map[string]string
	inProgress map[string]bool

	group singleflight.Group
}

// New constructs an Engine. resolver may be nil if no definition in the
// store carries a repo (e.g. unit tests working with synthetic catalogues).
func New(store catalogue.Store, resolver TreeResolver, arch string) *Engine {
	return &Engine{
		Store:      store,
		Resolver:   resolver,
		Arch:       arch,
		memo:       make(map[string]string),
		inProgress: make(map[string]bool),
	}
}

// CacheKey returns the cache key for name, memoising the result. It is
// idempotent (spec.md §8 property 2): a second call for a name with a repo
// returns the identical string without re-invoking the resolver.
func (e *Engine) CacheKey(ctx context.Context, name string) (string, error) {
	e.mu.Lock()
	if k, ok := e.memo[name]; ok {
		e.mu.Unlock()
		return k, nil
	}
	e.mu.Unlock()

	// Names being computed further up this call chain. Meeting one of
	// them again means the dependency graph has a cycle; it must be
	// caught here, because singleflight would otherwise wait forever on
	// the call this very chain has in flight.
	type chainKey struct{}
	chain, _ := ctx.Value(chainKey{}).(map[string]bool)
	if chain[name] {
		return "", &buildererr.CatalogueError{Name: name, Msg: "cycle detected in dependency graph"}
	}
	inner := make(map[string]bool, len(chain)+1)
	for n := range chain {
		inner[n] = true
	}
	inner[name] = true
	ctx = context.WithValue(ctx, chainKey{}, inner)

	// singleflight collapses concurrent requests for the same name within
	// this process into one computation (spec.md §5: suspension points
	// include network fetches during resolution; two goroutines racing
	// on the same dependency should not both pay that cost).
	v, err, _ := e.group.Do(name, func() (interface{}, error) {
		return e.computeAndMemo(ctx, name)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (e *Engine) computeAndMemo(ctx context.Context, name string) (string, error) {
	e.mu.Lock()
	if k, ok := e.memo[name]; ok {
		e.mu.Unlock()
		return k, nil
	}
	if e.inProgress[name] {
		e.mu.Unlock()
		return "", &buildererr.CatalogueError{Name: name, Msg: "cycle detected in dependency graph"}
	}
	e.inProgress[name] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inProgress, name)
		e.mu.Unlock()
	}()

	key, err := e.compute(ctx, name)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.memo[name] = key
	e.mu.Unlock()
	return key, nil
}

func (e *Engine) compute(ctx context.Context, name string) (string, error) {
	def, ok := e.Store.Get(name)
	if !ok {
		return "", &buildererr.DefinitionMissing{Name: name}
	}

	factors := map[string]interface{}{
		"arch": e.Arch,
	}

	for _, dep := range def.BuildDepends {
		k, err := e.CacheKey(ctx, dep)
		if err != nil {
			return "", err
		}
		factors[dep] = k
	}

	for _, c := range def.Contents {
		k, err := e.CacheKey(ctx, c)
		if err != nil {
			return "", err
		}
		factors[c] = k
	}

	tree := def.Tree
	if def.Repo != "" && tree == "" {
		if e.Resolver == nil {
			return "", &buildererr.SourceUnresolvable{Component: name, Repo: def.Repo, Ref: def.Ref, Err: fmt.Errorf("no resolver configured")}
		}
		t, err := e.Resolver.ResolveTree(ctx, def.Repo, def.Ref)
		if err != nil {
			return "", &buildererr.SourceUnresolvable{Component: name, Repo: def.Repo, Ref: def.Ref, Err: err}
		}
		tree = t
		def.Tree = t // memoised on the definition per spec.md §3 invariant
	}
	if tree != "" {
		factors["tree"] = tree
	}

	for step, cmds := range def.CommandLists {
		if len(cmds) == 0 {
			continue
		}
		factors[step] = cmds
	}

	if def.Kind == catalogue.KindCluster {
		for _, sys := range def.Systems {
			k, err := e.CacheKey(ctx, sys.Path)
			if err != nil {
				return "", err
			}
			factors[sys.Path] = k
		}
	}

	digest, err := canonicalHash(factors)
	if err != nil {
		return "", err
	}

	safeName := strings.ReplaceAll(def.Name, "/", "-")
	key := safeName + "@" + digest
	def.Cache = key
	log.Debugf("cache key for %s is %s\n", name, key)
	return key, nil
}

// canonicalHash serialises factors as JSON with sorted keys and
// sha256-hashes the result. encoding/json already sorts
// map[string]interface{} keys lexicographically when marshaling, the same
// key order as Python's json.dumps(..., sort_keys=True), so no
// canonical-JSON library is needed. The output is compact: unlike
// Python's default json.dumps it has no space after ',' or ':', so the
// bytes hashed are not identical to that form.
func canonicalHash(factors map[string]interface{}) (string, error) {
	buf, err := json.Marshal(factors)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// sortedKeys returns m's keys in the lexicographic order json.Marshal
// writes them in. Nothing in the package calls it.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
