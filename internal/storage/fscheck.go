package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem reports a database path on a network share, where
// SQLite file locking cannot be trusted.
var ErrNetworkFilesystem = errors.New("sqlite needs a local filesystem")

var remoteTypes = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// CheckLocal returns ErrNetworkFilesystem when path, or the closest of its
// parents that exists, lives on a network filesystem.
func CheckLocal(path string) error {
	return checkLocal(path, detectFilesystemType)
}

func checkLocal(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	existing, err := existingAncestor(path)
	if err != nil {
		return err
	}
	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem of %s: %w", existing, err)
	}
	if isRemote(fsType) {
		return fmt.Errorf("%w: %s is on %s, point daemon.state_path at local disk", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

// existingAncestor walks up from path until it finds something on disk, so a
// database that is about to be created is judged by its future directory.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no part of %s exists", path)
		}
		dir = parent
	}
}

func isRemote(fsType string) bool {
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	for _, t := range remoteTypes {
		if fsType == t {
			return true
		}
	}
	return false
}
