// Package lockfile implements an advisory lock so overlapping sync
// invocations (a timer tick racing a watch-triggered run, or a cron
// job racing the daemon) skip instead of corrupting the marker store.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// Lock is an acquired advisory lock.
type Lock struct {
	file *os.File
}

// Acquire takes a non-blocking flock on the file at path, creating it
// if needed. The holder's PID is written into the file for diagnostics
// only; the flock is what provides exclusion.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock failed: %w", err)
	}

	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	return &Lock{file: f}, nil
}

// Release drops the lock. The file stays in place: unlinking it would
// let a waiter that opened the old inode and a fresh opener of the new
// file hold their flocks at the same time. An unheld lock file is inert
// since only the flock provides exclusion.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("funlock failed: %w", err)
	}
	return closeErr
}
