package buildererr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFailedUnwrapsToUnderlyingError(t *testing.T) {
	underlying := errors.New("exit status 1")
	err := &BuildFailed{Component: "glibc", Command: "make", Dir: "/build", Err: underlying}

	assert.ErrorIs(t, err, underlying)
	assert.Contains(t, err.Error(), "glibc")
	assert.Contains(t, err.Error(), "make")
}

func TestStorageErrorUnwraps(t *testing.T) {
	underlying := fmt.Errorf("disk full")
	err := &StorageError{Op: "put", Key: "pkg@abc", Err: underlying}
	assert.ErrorIs(t, err, underlying)
}

func TestRetryIsNotWrappedAsAnOrdinaryError(t *testing.T) {
	var err error = &Retry{Key: "pkg@abc"}
	var retry *Retry
	assert.ErrorAs(t, err, &retry)
	assert.Equal(t, "pkg@abc", retry.Key)
}

func TestDefinitionMissingMessage(t *testing.T) {
	err := &DefinitionMissing{Name: "foo"}
	assert.Equal(t, `no definition found for "foo"`, err.Error())
}
