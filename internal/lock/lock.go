// Package lock implements the single-instance control-service lock from
// SPEC_FULL.md §4.17: an exclusive file lock on the base directory that
// lets a CLI client tell whether a server is already running.
package lock

import (
	"path/filepath"

	"github.com/gofrs/flock"
)

const fileName = ".unbrowse.lock"

// PathFor returns the lock file path under baseDir.
func PathFor(baseDir string) string {
	return filepath.Join(baseDir, fileName)
}

// AcquireBlocking takes the exclusive lock, blocking until it is free. The
// control service calls this on startup and holds the lock for its
// lifetime.
func AcquireBlocking(baseDir string) (*flock.Flock, error) {
	fl := flock.New(PathFor(baseDir))
	if err := fl.Lock(); err != nil {
		return nil, err
	}
	return fl, nil
}

// TryAcquire attempts a non-blocking lock, returning ok=false (with a nil
// *flock.Flock) when another process already holds it. A CLI client uses
// this to decide whether to spawn a server or reuse the running one.
func TryAcquire(baseDir string) (fl *flock.Flock, ok bool, err error) {
	fl = flock.New(PathFor(baseDir))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, err
	}
	if !locked {
		return nil, false, nil
	}
	return fl, true, nil
}
