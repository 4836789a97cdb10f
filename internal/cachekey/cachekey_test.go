package cachekey

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-build/strata/internal/catalogue"
)

type fakeStore struct {
	defs map[string]*catalogue.Definition
}

func (f *fakeStore) Get(name string) (*catalogue.Definition, bool) {
	d, ok := f.defs[name]
	return d, ok
}

func (f *fakeStore) Names() []string {
	names := make([]string, 0, len(f.defs))
	for n := range f.defs {
		names = append(names, n)
	}
	return names
}

type fakeResolver struct {
	calls int
	tree  string
}

func (r *fakeResolver) ResolveTree(ctx context.Context, repo, ref string) (string, error) {
	r.calls++
	return r.tree, nil
}

func newLeaf(name string) *catalogue.Definition {
	return &catalogue.Definition{
		Name: name,
		Kind: catalogue.KindChunk,
		CommandLists: map[string][]string{
			"build-commands": {"make"},
		},
	}
}

// Property 1: cache_key depends only on the §4.1 factors; an unrelated
// field (here, appending to Contents with a no-op description-only
// change has no analogue in Definition, so we instead perturb sibling
// ordering, which must not change the key either).
func TestCacheKeyIgnoresSiblingOrder(t *testing.T) {
	a := newLeaf("a")
	b := newLeaf("b")

	parent1 := &catalogue.Definition{Name: "parent", Kind: catalogue.KindStratum, Contents: []string{"a", "b"}}
	parent2 := &catalogue.Definition{Name: "parent", Kind: catalogue.KindStratum, Contents: []string{"b", "a"}}

	store1 := &fakeStore{defs: map[string]*catalogue.Definition{"a": a, "b": b, "parent": parent1}}
	store2 := &fakeStore{defs: map[string]*catalogue.Definition{"a": newLeaf("a"), "b": newLeaf("b"), "parent": parent2}}

	e1 := New(store1, &fakeResolver{}, "x86_64")
	e2 := New(store2, &fakeResolver{}, "x86_64")

	k1, err := e1.CacheKey(context.Background(), "parent")
	require.NoError(t, err)
	k2, err := e2.CacheKey(context.Background(), "parent")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
}

// Property 2: computed twice in the same process, CacheKey returns the
// identical string and does not re-invoke the resolver after the first
// call.
func TestCacheKeyMemoisesAndDoesNotReResolve(t *testing.T) {
	def := &catalogue.Definition{
		Name: "glibc",
		Kind: catalogue.KindChunk,
		Repo: "upstream:glibc",
		Ref:  "abc123",
	}
	store := &fakeStore{defs: map[string]*catalogue.Definition{"glibc": def}}
	res := &fakeResolver{tree: "deadbeef"}
	e := New(store, res, "x86_64")

	k1, err := e.CacheKey(context.Background(), "glibc")
	require.NoError(t, err)
	k2, err := e.CacheKey(context.Background(), "glibc")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, 1, res.calls)
}

func TestCacheKeyDetectsCycles(t *testing.T) {
	a := &catalogue.Definition{Name: "a", Kind: catalogue.KindStratum, Contents: []string{"b"}}
	b := &catalogue.Definition{Name: "b", Kind: catalogue.KindStratum, Contents: []string{"a"}}
	store := &fakeStore{defs: map[string]*catalogue.Definition{"a": a, "b": b}}
	e := New(store, &fakeResolver{}, "x86_64")

	_, err := e.CacheKey(context.Background(), "a")
	require.Error(t, err)
}

func TestCacheKeyFormat(t *testing.T) {
	def := newLeaf("some/nested-name")
	store := &fakeStore{defs: map[string]*catalogue.Definition{"some/nested-name": def}}
	e := New(store, &fakeResolver{}, "x86_64")

	key, err := e.CacheKey(context.Background(), "some/nested-name")
	require.NoError(t, err)
	assert.Regexp(t, `^some-nested-name@[0-9a-f]{64}$`, key)
}
