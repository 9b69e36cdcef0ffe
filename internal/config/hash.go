package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name written next to the config files.
const ChecksumFile = ".checksums"

// ChecksumManifest records the expected BLAKE3 hash of each config file in
// a directory, keyed by base name.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// HashUpdateFileResult captures checksum generation outcome for one file.
type HashUpdateFileResult struct {
	Filename string
	Path     string
	Hash     string
}

// HashUpdateReport captures checksum generation details for a config tree.
type HashUpdateReport struct {
	Written bool
	// Manifests lists the manifest paths written (or that would be written).
	Manifests []string
	Files     []HashUpdateFileResult
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// Lock hashes configPath and every file it includes, writing one manifest
// per directory. When dryRun is true nothing is written.
func Lock(configPath string, dryRun bool) (*HashUpdateReport, error) {
	files, err := DiscoverConfigFiles(configPath)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	manifests := make(map[string]*ChecksumManifest)
	report := &HashUpdateReport{}
	for _, path := range files {
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", path, err)
		}
		dir := filepath.Dir(path)
		m, ok := manifests[dir]
		if !ok {
			m = &ChecksumManifest{Version: 1, GeneratedAt: now, Hashes: make(map[string]string)}
			manifests[dir] = m
			report.Manifests = append(report.Manifests, filepath.Join(dir, ChecksumFile))
		}
		m.Hashes[filepath.Base(path)] = hash
		report.Files = append(report.Files, HashUpdateFileResult{
			Filename: filepath.Base(path),
			Path:     path,
			Hash:     hash,
		})
	}

	if dryRun {
		return report, nil
	}

	for dir, m := range manifests {
		data, err := yaml.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal checksums: %w", err)
		}
		// Restrictive permissions: the manifest holds the expected hashes.
		if err := os.WriteFile(filepath.Join(dir, ChecksumFile), data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write checksums: %w", err)
		}
	}
	report.Written = true
	return report, nil
}

// LoadChecksums reads the manifest from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	checksumPath := filepath.Join(configDir, ChecksumFile)

	data, err := os.ReadFile(checksumPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'pcb-drill config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}
