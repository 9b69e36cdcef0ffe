package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func fixedType(fsType string) func(string) (string, error) {
	return func(string) (string, error) { return fsType, nil }
}

func TestCheckLocalAcceptsLocalDisk(t *testing.T) {
	t.Parallel()

	for _, fsType := range []string{"apfs", "0xef53", "unknown"} {
		if err := checkLocal(filepath.Join(t.TempDir(), "pcb-drill.db"), fixedType(fsType)); err != nil {
			t.Fatalf("%s: expected local filesystem to pass, got: %v", fsType, err)
		}
	}
}

func TestCheckLocalRejectsShares(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "pcb-drill.db")
	err := checkLocal(dbPath, fixedType("smbfs"))
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("expected ErrNetworkFilesystem, got %v", err)
	}
	for _, want := range []string{"smbfs", dbPath, "daemon.state_path"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to contain %q, got %q", want, err)
		}
	}
}

func TestCheckLocalJudgesFutureDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var seen string
	err := checkLocal(filepath.Join(root, "data", "state", "pcb-drill.db"), func(path string) (string, error) {
		seen = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("checkLocal: %v", err)
	}
	if seen != root {
		t.Fatalf("detector saw %q, want %q", seen, root)
	}
}

func TestCheckLocalDetectorFailure(t *testing.T) {
	t.Parallel()

	err := checkLocal(t.TempDir(), func(string) (string, error) { return "", errors.New("statfs broke") })
	if err == nil || !strings.Contains(err.Error(), "statfs broke") {
		t.Fatalf("expected detector error, got %v", err)
	}
}

func TestIsRemote(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"webdav": true,
		"apfs":   false,
		"0x6969": false,
		"":       false,
	}
	for fsType, want := range cases {
		if got := isRemote(fsType); got != want {
			t.Errorf("isRemote(%q) = %v, want %v", fsType, got, want)
		}
	}
}
