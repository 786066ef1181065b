// Package lock guards against a second server instance on the same host.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning 表示另一个进程持有锁。
var ErrAlreadyRunning = errors.New("server is already running")

// Lock is an advisory file lock held for the lifetime of the process.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path without blocking. It returns
// ErrAlreadyRunning when another process holds it.
func Acquire(path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: lock %s is held", ErrAlreadyRunning, path)
	}

	// The pid is informational; the flock is what excludes other instances.
	_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	return &Lock{fl: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release unlocks. Calling it more than once is safe.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
