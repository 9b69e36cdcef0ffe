// Package inspect reports what the worker knows about one captured image:
// the file itself, its cached drill holes, the sessions that use it as their
// solder mask and the files derived from it by the vision pipeline.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pcbdrill/pcb-drill/internal/gcode"
	"github.com/pcbdrill/pcb-drill/internal/imagestore"
)

// derivedPrefixes are the name prefixes the drill handler writes outputs
// under, keyed by the command that writes them.
var derivedPrefixes = []struct {
	prefix  string
	command string
}{
	{"solder_mask", "process_solder_mask"},
	{"crop_pcb_", "process_pcb"},
	{"cv_", "process_pcb"},
	{"cv_keypoint_", "process_pcb"},
	{"diff_", "calibrate_printer"},
}

// State is the part of the worker state a report reads.
type State interface {
	Holes(ctx context.Context, image string) ([]gcode.Coordinate, bool, error)
	MaskSessions(ctx context.Context, image string) ([]string, error)
}

// Report is the structured JSON representation of an image report.
type Report struct {
	Image      string     `json:"image"`
	Path       string     `json:"path"`
	Present    bool       `json:"present"`
	Size       int64      `json:"size,omitempty"`
	ModTime    *time.Time `json:"mod_time,omitempty"`
	HolesKnown bool       `json:"holes_known"`
	Holes      []string   `json:"holes"`
	Sessions   []string   `json:"mask_sessions"`
	Artifacts  []Artifact `json:"artifacts"`
}

// Artifact is one file derived from the image.
type Artifact struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Size    int64  `json:"size"`
}

// BuildReport renders a terminal-friendly report for image.
func BuildReport(ctx context.Context, st State, images *imagestore.Store, image string) (string, error) {
	report, err := Gather(ctx, st, images, image)
	if err != nil {
		return "", err
	}
	return FormatHuman(report), nil
}

// BuildJSONReport returns the machine-readable report for image.
func BuildJSONReport(ctx context.Context, st State, images *imagestore.Store, image string) (string, error) {
	report, err := Gather(ctx, st, images, image)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// Gather collects the report for image. A nil st reports no state.
func Gather(ctx context.Context, st State, images *imagestore.Store, image string) (*Report, error) {
	if strings.TrimSpace(image) == "" {
		return nil, fmt.Errorf("image name is required")
	}
	name, err := imagestore.Name(image)
	if err != nil {
		return nil, err
	}
	path, err := images.Path(name)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Image:     name,
		Path:      path,
		Holes:     make([]string, 0),
		Sessions:  make([]string, 0),
		Artifacts: make([]Artifact, 0),
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		mod := info.ModTime()
		report.Present = true
		report.Size = info.Size()
		report.ModTime = &mod
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	if st != nil {
		holes, ok, err := st.Holes(ctx, name)
		if err != nil {
			return nil, err
		}
		report.HolesKnown = ok
		for _, h := range holes {
			report.Holes = append(report.Holes, h.String())
		}
		sessions, err := st.MaskSessions(ctx, name)
		if err != nil {
			return nil, err
		}
		report.Sessions = append(report.Sessions, sessions...)
	}

	artifacts, err := listArtifacts(images, name)
	if err != nil {
		return nil, err
	}
	report.Artifacts = artifacts
	return report, nil
}

// FormatHuman renders report for a terminal.
func FormatHuman(report *Report) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Image Report\n")
	fmt.Fprintf(&out, "Image       : %s\n", report.Image)
	fmt.Fprintf(&out, "Path        : %s\n", report.Path)
	if report.Present {
		fmt.Fprintf(&out, "Size        : %d bytes\n", report.Size)
		fmt.Fprintf(&out, "Modified    : %s\n", report.ModTime.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(&out, "Size        : <missing>\n")
	}
	fmt.Fprintf(&out, "Sessions    : %s\n", renderList(report.Sessions, "<none>"))
	fmt.Fprintf(&out, "\n")

	switch {
	case !report.HolesKnown:
		fmt.Fprintf(&out, "holes       : <not processed>\n")
	case len(report.Holes) == 0:
		fmt.Fprintf(&out, "holes       : 0\n")
	default:
		fmt.Fprintf(&out, "holes       : %d\n", len(report.Holes))
		for _, h := range report.Holes {
			fmt.Fprintf(&out, "  - %s\n", h)
		}
	}

	if len(report.Artifacts) == 0 {
		fmt.Fprintf(&out, "artifacts   : <none>\n")
	} else {
		fmt.Fprintf(&out, "artifacts   :\n")
		for _, a := range report.Artifacts {
			fmt.Fprintf(&out, "  - %s (%s, %d bytes)\n", a.Name, a.Command, a.Size)
		}
	}
	return out.String()
}

func listArtifacts(images *imagestore.Store, name string) ([]Artifact, error) {
	artifacts := make([]Artifact, 0)
	for _, d := range derivedPrefixes {
		path, err := images.Path(d.prefix + name)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", d.prefix+name, err)
		}
		artifacts = append(artifacts, Artifact{Name: d.prefix + name, Command: d.command, Size: info.Size()})
	}
	return artifacts, nil
}

func renderList(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}
