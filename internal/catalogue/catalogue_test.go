package catalogue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDef(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDirParsesDefinitionAndCommandLists(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "glibc.yaml", `
name: glibc
kind: chunk
repo: upstream:glibc
ref: abc123
build-depends: [gcc]
configure-commands:
  - ./configure --prefix=/usr
build-commands:
  - make
  - true
install-commands:
  - make install
  - false
`)

	store, err := LoadDir(dir)
	require.NoError(t, err)

	def, ok := store.Get("glibc")
	require.True(t, ok)
	assert.Equal(t, KindChunk, def.Kind)
	assert.Equal(t, "upstream:glibc", def.Repo)
	assert.Equal(t, []string{"gcc"}, def.BuildDepends)
	assert.Equal(t, []string{"./configure --prefix=/usr"}, def.CommandLists["configure-commands"])

	// Command lists of booleans (spec.md §9 Design Note): literal
	// true/false become the shell builtins of the same name.
	assert.Equal(t, []string{"make", "true"}, def.CommandLists["build-commands"])
	assert.Equal(t, []string{"make install", "false"}, def.CommandLists["install-commands"])
}

func TestLoadDirFallsBackToFileNameForMissingName(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "coreutils.yaml", "kind: chunk\n")

	store, err := LoadDir(dir)
	require.NoError(t, err)

	def, ok := store.Get("coreutils")
	require.True(t, ok)
	assert.Equal(t, "coreutils", def.Name)
}

func TestMustGetMissingReturnsDefinitionMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadDir(dir)
	require.NoError(t, err)

	_, err = MustGet(store, "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestNamesIsSorted(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "zz.yaml", "name: zz\nkind: chunk\n")
	writeDef(t, dir, "aa.yaml", "name: aa\nkind: chunk\n")

	store, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "zz"}, store.Names())
}

func TestNormaliseCommandListRejectsNonStringNonBool(t *testing.T) {
	_, err := normaliseCommandList([]interface{}{42})
	assert.Error(t, err)
}
