package strataconf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolvesDirectoriesAndDefaults(t *testing.T) {
	cfg, err := New(".", "x86_64")
	require.NoError(t, err)

	assert.Equal(t, "x86_64", cfg.Arch)
	assert.Equal(t, 1, cfg.Instances)
	assert.False(t, cfg.MultiWorker())
	assert.Contains(t, cfg.Artifacts, "artifacts")
	assert.Contains(t, cfg.Gits, "gits")
}

func TestMultiWorker(t *testing.T) {
	cfg, err := New(".", "x86_64")
	require.NoError(t, err)
	cfg.Instances = 4
	assert.True(t, cfg.MultiWorker())
}

func TestSandboxTrackingIsConcurrencySafe(t *testing.T) {
	cfg, err := New(".", "x86_64")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dir := "sandbox-" + string(rune('a'+i%26))
			cfg.AddSandbox(dir)
			cfg.RemoveSandbox(dir)
		}(i)
	}
	wg.Wait()
	assert.Empty(t, cfg.Sandboxes())
}

func TestAddRemoveSandbox(t *testing.T) {
	cfg, err := New(".", "x86_64")
	require.NoError(t, err)

	cfg.AddSandbox("/tmp/sandbox-a")
	cfg.AddSandbox("/tmp/sandbox-b")
	assert.ElementsMatch(t, []string{"/tmp/sandbox-a", "/tmp/sandbox-b"}, cfg.Sandboxes())

	cfg.RemoveSandbox("/tmp/sandbox-a")
	assert.Equal(t, []string{"/tmp/sandbox-b"}, cfg.Sandboxes())
}
