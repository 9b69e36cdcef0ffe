package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "pcb-drilld.pid")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	pid, err := Holder(lockPath)
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("Holder = %d, want %d", pid, os.Getpid())
	}
	if l.Path() != lockPath {
		t.Fatalf("Path = %q, want %q", l.Path(), lockPath)
	}
}

func TestAcquirePIDLockExclusive(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "run", "pcb-drilld.pid")
	first, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts too.
	if _, err := AcquirePIDLock(lockPath); !errors.Is(err, ErrLocked) {
		t.Fatalf("second AcquirePIDLock error = %v, want ErrLocked", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	second, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock after release: %v", err)
	}
	_ = second.Release()
}

func TestReleaseTwice(t *testing.T) {
	t.Parallel()

	l, err := AcquirePIDLock(filepath.Join(t.TempDir(), "x.pid"))
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	var nilLock *PIDLock
	if err := nilLock.Release(); err != nil {
		t.Fatalf("nil Release: %v", err)
	}
}

func TestAcquirePIDLockEmptyPath(t *testing.T) {
	if _, err := AcquirePIDLock(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
