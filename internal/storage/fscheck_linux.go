//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	linuxNFSMagic  = 0x6969
	linuxCIFSMagic = 0xFF534D42
	linuxSMBMagic  = 0x517B
	linuxSMB2Magic = 0xFE534D42
)

func detectFilesystemType(path string) (string, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	// Type is 32 bits wide on arm; compare the low word only.
	magic := uint32(stat.Type)
	switch magic {
	case linuxNFSMagic:
		return "nfs", nil
	case linuxCIFSMagic:
		return "cifs", nil
	case linuxSMBMagic:
		return "smbfs", nil
	case linuxSMB2Magic:
		return "smb2", nil
	default:
		return fmt.Sprintf("0x%x", magic), nil
	}
}
