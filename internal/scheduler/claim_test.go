package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-build/strata/internal/buildererr"
)

func TestAcquireClaimExclusive(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "pkg@abc.lock")

	claim, err := AcquireClaim(lock, time.Second)
	require.NoError(t, err)
	require.NotNil(t, claim)

	_, err = AcquireClaim(lock, time.Second)
	require.Error(t, err)
	retry, ok := err.(*buildererr.Retry)
	require.True(t, ok, "expected *buildererr.Retry, got %T", err)
	assert.Equal(t, "pkg@abc", retry.Key)

	claim.Release()

	claim2, err := AcquireClaim(lock, time.Second)
	require.NoError(t, err)
	claim2.Release()
}

func TestWaitSharedUnblocksAfterRelease(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "pkg@def.lock")

	claim, err := AcquireClaim(lock, time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- WaitShared(lock, 2*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	claim.Release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("WaitShared did not unblock after release")
	}
}

func TestKeyFromLockPath(t *testing.T) {
	assert.Equal(t, "pkg@abc", keyFromLockPath("/tmp/pkg@abc.lock"))
	assert.Equal(t, "pkg@abc", keyFromLockPath("pkg@abc.lock"))
}
