// Package imagestore resolves image names to paths inside a single directory
// and applies the configured ownership to files written there.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pcbdrill/pcb-drill/internal/log"
)

// FileMode is applied to every file the worker writes.
const FileMode os.FileMode = 0o644

var (
	// ErrInvalidName is returned for names outside [0-9A-Za-z._-].
	ErrInvalidName = errors.New("invalid image name")
	// ErrTooLarge is returned by Save when the upload exceeds its limit.
	ErrTooLarge = errors.New("image too large")

	validName = regexp.MustCompile(`^[0-9A-Za-z._-]+$`)
)

// Store is an image directory on local disk.
type Store struct {
	dir    string
	uid    int
	gid    int
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store) error

// WithOwner chowns written files to the named user and group. Empty names
// keep the current owner.
func WithOwner(userName, groupName string) Option {
	return func(s *Store) error {
		if userName != "" {
			u, err := user.Lookup(userName)
			if err != nil {
				return fmt.Errorf("lookup user %q: %w", userName, err)
			}
			uid, err := strconv.Atoi(u.Uid)
			if err != nil {
				return fmt.Errorf("user %q has non-numeric uid %q", userName, u.Uid)
			}
			s.uid = uid
		}
		if groupName != "" {
			g, err := user.LookupGroup(groupName)
			if err != nil {
				return fmt.Errorf("lookup group %q: %w", groupName, err)
			}
			gid, err := strconv.Atoi(g.Gid)
			if err != nil {
				return fmt.Errorf("group %q has non-numeric gid %q", groupName, g.Gid)
			}
			s.gid = gid
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) error {
		s.logger = l
		return nil
	}
}

// New opens (creating if needed) the image directory at dir.
func New(dir string, opts ...Option) (*Store, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("image storage directory is empty")
	}

	s := &Store{
		dir: filepath.Clean(trimmed),
		uid: -1,
		gid: -1,
		now: time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		s.logger = log.WithComponent("imagestore")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image storage directory: %w", err)
	}
	return s, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

// Name validates name and appends ".png" unless it already ends in .png or
// .jpg (any case).
func Name(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("%w: %q has characters outside of A-Za-z0-9-_.", ErrInvalidName, name)
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".png") && !strings.HasSuffix(lower, ".jpg") {
		name += ".png"
	}
	return name, nil
}

// Path returns the full path for name. The result always lies directly in
// the store directory.
func (s *Store) Path(name string) (string, error) {
	base, err := Name(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, base), nil
}

// Exists reports whether name is present in the store.
func (s *Store) Exists(name string) (bool, error) {
	path, err := s.Path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Finalize sets FileMode and the configured owner on a file written into the
// store. A chown refused for lack of privilege is logged and ignored so an
// unprivileged worker still runs.
func (s *Store) Finalize(path string) error {
	if err := os.Chmod(path, FileMode); err != nil {
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if s.uid < 0 && s.gid < 0 {
		return nil
	}
	if err := os.Chown(path, s.uid, s.gid); err != nil {
		if errors.Is(err, os.ErrPermission) {
			s.logger.Debug("chown skipped", "path", path, "uid", s.uid, "gid", s.gid, "error", err)
			return nil
		}
		return fmt.Errorf("chown %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Save writes r to name (normalized by Name) and finalizes the file. At
// most limit bytes are accepted when limit is positive.
func (s *Store) Save(ctx context.Context, name string, r io.Reader, limit int64) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if limit > 0 && n > limit {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, filepath.Base(path), limit)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	if err := s.Finalize(path); err != nil {
		return "", err
	}
	s.logger.Debug("image saved", "path", path, "bytes", n)
	return path, nil
}

// Image describes a stored file.
type Image struct {
	Name     string
	Size     int64
	Modified time.Time
}

// List returns the images in the store sorted by name.
func (s *Store) List(ctx context.Context) ([]Image, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read image storage: %w", err)
	}

	var images []Image
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") || !validName.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", entry.Name(), err)
		}
		images = append(images, Image{Name: entry.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// Cleanup removes images last modified more than olderThan ago and returns
// how many were removed.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	images, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for _, img := range images {
		if img.Modified.After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, img.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %q: %w", img.Name, err)
		}
		removed++
	}
	return removed, nil
}
