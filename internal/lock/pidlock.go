package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another pcb-drill daemon is running")

// PIDLock is a single-instance lock implemented via a PID file + flock(2).
// Keep the lock alive by keeping the file descriptor open.
type PIDLock struct {
	path string
	f    *os.File
}

// AcquirePIDLock acquires an exclusive non-blocking lock at lockPath, writes the
// current PID into the file, and returns a handle that must be released.
func AcquirePIDLock(lockPath string) (*PIDLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid, perr := Holder(lockPath); perr == nil {
				return nil, fmt.Errorf("%w (pid %d, lock %s)", ErrLocked, pid, lockPath)
			}
			return nil, fmt.Errorf("%w (lock %s)", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &PIDLock{path: lockPath, f: f}
	if err := l.writePID(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *PIDLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(l.f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// Holder returns the PID recorded in the lock file at lockPath.
func Holder(lockPath string) (int, error) {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid in %s: %w", lockPath, err)
	}
	return pid, nil
}

func (l *PIDLock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself is left in place.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
