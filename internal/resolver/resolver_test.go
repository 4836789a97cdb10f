package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandURLAliases(t *testing.T) {
	cases := map[string]string{
		"upstream:glibc.git":          "git://git.baserock.org/delta/glibc",
		"github:foo/bar":              "git://github.com/foo/bar",
		"git://example.com/repo.git":  "git://example.com/repo",
		"baserock:baserock/definitions": "git://git.baserock.org/baserock/baserock/definitions",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExpandURL(in), "input %q", in)
	}
}

// Round-trip property (spec.md §8): sanitised names for two distinct
// URLs that differ only in characters mapped to '_' still map to the
// same mirror — and, conversely, the sanitiser must be byte-identical
// to the specified reference routine (character class substitution,
// nothing locale-aware).
func TestSanitiseNameCharacterClass(t *testing.T) {
	assert.Equal(t, "git___example_com_foo_bar", SanitiseName("git://example.com/foo+bar"))
	assert.Equal(t, "a_b", SanitiseName("a/b"))
	assert.Equal(t, "a_b", SanitiseName("a:b"))
}

func TestSanitiseNameIsDeterministic(t *testing.T) {
	repo := "upstream:glibc"
	assert.Equal(t, SanitiseName(repo), SanitiseName(repo))
}

func TestSanitiseNameDistinctURLsDistinctNames(t *testing.T) {
	a := SanitiseName("github:foo/bar")
	b := SanitiseName("github:foo/baz")
	assert.NotEqual(t, a, b)
}
