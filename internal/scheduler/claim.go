package scheduler

import (
	"time"

	"github.com/gofrs/flock"

	"github.com/strata-build/strata/internal/buildererr"
)

// Claim is the distributed build lock of spec.md §4.4: an exclusive,
// non-blocking advisory lock on <tmp>/<key>.lock, held until Release
// unlocks it.
type Claim struct {
	lock *flock.Flock
}

// AcquireClaim attempts a non-blocking exclusive lock on path. On
// contention it returns *buildererr.Retry rather than blocking, so the
// caller can run its own retry policy (spec.md §4.4's retry handler).
func AcquireClaim(path string, timeout time.Duration) (*Claim, error) {
	l := flock.NewFlock(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, &buildererr.SandboxError{Component: path, Op: "try-lock", Err: err}
	}
	if !ok {
		key := keyFromLockPath(path)
		return nil, &buildererr.Retry{Key: key}
	}
	return &Claim{lock: l}, nil
}

// Release unlocks the claim. The OS also releases the lock when the
// underlying file descriptor is closed, but Release is called
// explicitly via defer at every call site for clarity.
func (c *Claim) Release() {
	c.lock.Unlock()
}

// WaitShared blocks (up to timeout) acquiring a shared lock on path,
// i.e. it waits for whichever worker holds the exclusive lock to
// finish, per spec.md §4.4: "acquire a shared lock with a configured
// timeout (default 60s) to block until the holder finishes."
func WaitShared(path string, timeout time.Duration) error {
	l := flock.NewFlock(path)
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.TryRLock()
		if err != nil {
			return err
		}
		if ok {
			l.Unlock()
			return nil
		}
		if time.Now().After(deadline) {
			return &buildererr.Retry{Key: keyFromLockPath(path)}
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func keyFromLockPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	const suffix = ".lock"
	if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
		return base[:len(base)-len(suffix)]
	}
	return base
}
