// Package library manages the directory of saved G-code programs served by
// the web front end. Preset programs are rendered into the directory the
// first time they are read.
package library

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/pcbdrill/pcb-drill/internal/gcode"
	"github.com/pcbdrill/pcb-drill/internal/log"
)

// Extension is the suffix every library file carries.
const Extension = ".gcode"

var (
	// ErrInvalidName is returned for names that are not plain *.gcode file names.
	ErrInvalidName = errors.New("invalid library file name")
	// ErrNotFound is returned when a file is neither on disk nor a preset.
	ErrNotFound = errors.New("library file not found")

	validName = regexp.MustCompile(`^[0-9A-Za-z_-][0-9A-Za-z._-]*\.gcode$`)
)

// Entry describes a file listed in the library.
type Entry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified,omitempty"`
	// Preset is set for names rendered on demand. A preset not yet read has
	// no size or modification time.
	Preset bool `json:"preset"`
	// Exists is false for a preset that has not been rendered yet.
	Exists bool `json:"exists"`
}

// File is a library file read from disk.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	// Digest is the hex BLAKE3-256 of Content.
	Digest   string    `json:"digest"`
	Modified time.Time `json:"modified"`
}

// Library is a G-code directory on local disk.
type Library struct {
	dir     string
	presets []gcode.Option
	logger  *slog.Logger
}

// Option configures a Library.
type Option func(*Library)

// WithPresetOptions sets the generator options used when rendering presets.
// Presets default to line numbers off.
func WithPresetOptions(opts ...gcode.Option) Option {
	return func(l *Library) { l.presets = append(l.presets, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) { l.logger = logger }
}

// New opens (creating if needed) the library directory.
func New(dir string, opts ...Option) (*Library, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("gcode library directory is empty")
	}
	l := &Library{
		dir:     filepath.Clean(trimmed),
		presets: []gcode.Option{gcode.WithLineNumbers(false)},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = log.WithComponent("library")
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create gcode library directory: %w", err)
	}
	return l, nil
}

// Dir returns the library directory.
func (l *Library) Dir() string { return l.dir }

// ValidateName checks that name is a bare *.gcode file name.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Digest returns the hex BLAKE3-256 of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// List returns the *.gcode files in the library plus every preset name,
// sorted by name.
func (l *Library) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read gcode library: %w", err)
	}

	byName := make(map[string]Entry, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), ".") || !strings.HasSuffix(strings.ToLower(de.Name()), Extension) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", de.Name(), err)
		}
		byName[de.Name()] = Entry{Name: de.Name(), Size: info.Size(), Modified: info.ModTime(), Exists: true}
	}
	for _, name := range gcode.PresetNames() {
		e := byName[name]
		e.Name = name
		e.Preset = true
		byName[name] = e
	}

	entries := make([]Entry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Read returns the named file. A preset name missing from disk is rendered
// and saved first.
func (l *Library) Read(ctx context.Context, name string) (*File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(l.dir, name)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		preset, ok := gcode.LookupPreset(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		program, err := preset(l.presets...)
		if err != nil {
			return nil, fmt.Errorf("render preset %s: %w", name, err)
		}
		if err := writeFile(path, []byte(program)); err != nil {
			return nil, err
		}
		l.logger.Info("rendered preset", "name", name)
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	return readFile(name, path)
}

// Write saves content under name, replacing any existing file.
func (l *Library) Write(ctx context.Context, name, content string) (*File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(l.dir, name)
	if err := writeFile(path, []byte(content)); err != nil {
		return nil, err
	}
	l.logger.Debug("saved program", "name", name, "bytes", len(content))
	return readFile(name, path)
}

// Render returns a preset program without touching the library directory.
func Render(name string, opts ...gcode.Option) (string, error) {
	preset, ok := gcode.LookupPreset(name)
	if !ok {
		return "", fmt.Errorf("%w: no preset %s", ErrNotFound, name)
	}
	return preset(opts...)
}

func readFile(name, path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	return &File{Name: name, Content: string(data), Digest: Digest(data), Modified: info.ModTime()}, nil
}

// writeFile replaces path atomically so a concurrent reader never sees a
// partial program.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*"+Extension)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
