package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created inside the data directory while a server owns it
const LockFileName = ".audio-extract-service.lock"

// ErrLocked is returned when another process already owns the data directory
var ErrLocked = errors.New("data directory is in use by another instance")

// DirLock is an advisory lock giving one process exclusive use of a data directory
type DirLock struct {
	lock *flock.Flock
}

// AcquireDirLock takes the lock without blocking, creating dataDir if needed
func AcquireDirLock(dataDir string) (*DirLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, LockFileName)
	lock := flock.New(path)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &DirLock{lock: lock}, nil
}

// Path returns the lock file path
func (l *DirLock) Path() string {
	return l.lock.Path()
}

// Release unlocks the data directory
func (l *DirLock) Release() error {
	return l.lock.Unlock()
}
