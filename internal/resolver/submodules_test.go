package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGitmodulesBasic(t *testing.T) {
	content := `
[submodule "vendor/lib"]
	path = vendor/lib
	url = https://example.com/lib.git
[submodule "vendor/other"]
	path = vendor/other
	url = https://example.com/other.git
`
	sections, err := ParseGitmodules(content)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "vendor/lib", sections["vendor/lib"]["path"])
	assert.Equal(t, "https://example.com/lib.git", sections["vendor/lib"]["url"])
	assert.Equal(t, "vendor/other", sections["vendor/other"]["path"])
}

func TestParseGitmodulesIgnoresCommentsAndBlankLines(t *testing.T) {
	content := `
; a comment
# another comment

[submodule "x"]
	path = x
	url = y
`
	sections, err := ParseGitmodules(content)
	require.NoError(t, err)
	assert.Equal(t, "x", sections["x"]["path"])
}

func TestParseGitmodulesMalformedLineErrors(t *testing.T) {
	content := `
[submodule "x"]
	not-a-key-value-line
`
	_, err := ParseGitmodules(content)
	assert.Error(t, err)
}

func TestParseGitmodulesEmpty(t *testing.T) {
	sections, err := ParseGitmodules("")
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestIsHex(t *testing.T) {
	assert.True(t, isHex("deadbeef"))
	assert.True(t, isHex("0123456789abcdefABCDEF"))
	assert.False(t, isHex("not-hex"))
}
