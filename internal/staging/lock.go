package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another run holds the destination lock.
var ErrLocked = errors.New("destination is locked by another run")

// Lock is an exclusive, cross-process claim on one destination repo id.
type Lock struct {
	path string
	fl   *flock.Flock
}

// LockDestination acquires the lock file for repoID without blocking.
func LockDestination(stagingDir, repoID string) (*Lock, error) {
	dir := filepath.Join(stagingDir, LocksDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, SanitizeRepoID(repoID)+".lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, repoID)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks the destination.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
