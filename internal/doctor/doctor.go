// Package doctor checks a pcb-drill configuration against the host it is
// about to run on. config.Validate rejects malformed values; the doctor
// looks for settings that are valid but will not work here.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pcbdrill/pcb-drill/internal/config"
	"github.com/pcbdrill/pcb-drill/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg         *config.Config
	lookPath    func(string) (string, error)
	lookupUser  func(string) (*user.User, error)
	lookupGroup func(string) (*user.Group, error)
	checkLocal  func(string) error
}

// Option replaces a host lookup, mainly for tests.
type Option func(*Doctor)

func WithLookPath(f func(string) (string, error)) Option {
	return func(d *Doctor) { d.lookPath = f }
}

func WithUserLookup(u func(string) (*user.User, error), g func(string) (*user.Group, error)) Option {
	return func(d *Doctor) {
		d.lookupUser = u
		d.lookupGroup = g
	}
}

func WithFilesystemCheck(f func(string) error) Option {
	return func(d *Doctor) { d.checkLocal = f }
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config, opts ...Option) *Doctor {
	d := &Doctor{
		cfg:         cfg,
		lookPath:    exec.LookPath,
		lookupUser:  user.Lookup,
		lookupGroup: user.LookupGroup,
		checkLocal:  storage.CheckLocal,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateCamera(r)
	d.validateOwner(r)
	d.validateDirs(r)
	d.validateAPIKey(r)
	d.warnDaemonURL(r)
	d.warnTimeouts(r)
	d.validateState(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateCamera checks that the capture programs exist. The web host often
// has no camera, so a missing program is only a warning.
func (d *Doctor) validateCamera(r *Result) {
	check := func(field, template string) {
		fields := strings.Fields(template)
		if len(fields) == 0 {
			return
		}
		if _, err := d.lookPath(fields[0]); err != nil {
			d.addWarning(r, "camera", field,
				fmt.Sprintf("program %q not found on PATH; the worker cannot use the camera on this host", fields[0]))
		}
	}
	check("daemon.camera_command", d.cfg.Daemon.CameraCommand)
	if strings.TrimSpace(d.cfg.Daemon.CameraPreviewCommand) == "" {
		d.addWarning(r, "camera", "daemon.camera_preview_command", "empty, the default raspistill preview is used")
		return
	}
	check("daemon.camera_preview_command", d.cfg.Daemon.CameraPreviewCommand)
}

// validateOwner checks that the owner of written images exists.
func (d *Doctor) validateOwner(r *Result) {
	if name := d.cfg.Daemon.User; name != "" {
		if _, err := d.lookupUser(name); err != nil {
			d.addError(r, "owner", "daemon.user", fmt.Sprintf("user %q does not exist", name))
		}
	}
	if name := d.cfg.Daemon.Group; name != "" {
		if _, err := d.lookupGroup(name); err != nil {
			d.addError(r, "owner", "daemon.group", fmt.Sprintf("group %q does not exist", name))
		}
	}
	if (d.cfg.Daemon.User != "" || d.cfg.Daemon.Group != "") && os.Geteuid() != 0 {
		d.addWarning(r, "owner", "daemon.user",
			"not running as root, chown of captured images will be skipped")
	}
}

// validateDirs checks that storage paths are directories or can be created.
func (d *Doctor) validateDirs(r *Result) {
	dirs := []struct{ field, path string }{
		{"daemon.image_storage", d.cfg.Daemon.ImageStorage},
		{"web.image_storage", d.cfg.Web.ImageStorage},
		{"web.gcode_library", d.cfg.Web.GCodeLibrary},
	}
	if d.cfg.Daemon.StatePath != "" && d.cfg.Daemon.StatePath != ":memory:" {
		dirs = append(dirs, struct{ field, path string }{"daemon.state_path", filepath.Dir(d.cfg.Daemon.StatePath)})
	}
	if d.cfg.Daemon.PIDFile != "" {
		dirs = append(dirs, struct{ field, path string }{"daemon.pid_file", filepath.Dir(d.cfg.Daemon.PIDFile)})
	}

	for _, dir := range dirs {
		if dir.path == "" {
			continue
		}
		info, err := os.Stat(dir.path)
		switch {
		case err == nil && !info.IsDir():
			d.addError(r, "storage", dir.field, fmt.Sprintf("%s exists and is not a directory", dir.path))
		case err == nil:
			if !writable(dir.path) {
				d.addError(r, "storage", dir.field, fmt.Sprintf("%s is not writable", dir.path))
			}
		case os.IsNotExist(err):
			parent := nearestExisting(dir.path)
			if !writable(parent) {
				d.addError(r, "storage", dir.field,
					fmt.Sprintf("%s does not exist and %s is not writable", dir.path, parent))
			}
		default:
			d.addError(r, "storage", dir.field, err.Error())
		}
	}
}

// validateAPIKey refuses to expose an unauthenticated front end beyond the
// local host.
func (d *Doctor) validateAPIKey(r *Result) {
	if d.cfg.Web.APIKey != "" {
		if len(d.cfg.Web.APIKey) < 16 {
			d.addWarning(r, "api", "web.api_key", "shorter than 16 characters")
		}
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.Web.Listen)
	if err != nil {
		return
	}
	if isLoopback(host) {
		d.addWarning(r, "api", "web.api_key", "empty, every route is open to local users")
		return
	}
	d.addError(r, "api", "web.api_key",
		fmt.Sprintf("web.listen %q accepts remote clients but no api_key is set", d.cfg.Web.Listen))
}

// warnDaemonURL flags a front end pointed at a local worker port that the
// local worker does not listen on.
func (d *Doctor) warnDaemonURL(r *Result) {
	u, err := url.Parse(d.cfg.Web.DaemonURL)
	if err != nil || !isLoopback(u.Hostname()) {
		return
	}
	_, port, err := net.SplitHostPort(d.cfg.Daemon.Listen)
	if err != nil {
		return
	}
	if u.Port() != port {
		d.addWarning(r, "transport", "web.daemon_url",
			fmt.Sprintf("points at local port %s but daemon.listen uses %s", u.Port(), port))
	}
	if u.Path != "/rpc" {
		d.addWarning(r, "transport", "web.daemon_url", fmt.Sprintf("path %q, the worker serves /rpc", u.Path))
	}
}

func (d *Doctor) warnTimeouts(r *Result) {
	web, daemon := d.cfg.Web.RequestTimeout, d.cfg.Daemon.RequestTimeout
	if web > 0 && daemon > 0 && web < daemon {
		d.addWarning(r, "timeouts", "web.request_timeout",
			fmt.Sprintf("%s is shorter than daemon.request_timeout %s; the front end may give up on a request the worker still runs", web, daemon))
	}
}

func (d *Doctor) validateState(r *Result) {
	path := d.cfg.Daemon.StatePath
	if path == "" {
		d.addWarning(r, "state", "daemon.state_path",
			"empty, processed holes and solder masks are lost when the worker restarts")
		return
	}
	err := d.checkLocal(path)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNetworkFilesystem):
		d.addError(r, "state", "daemon.state_path", err.Error())
	default:
		d.addWarning(r, "state", "daemon.state_path", "filesystem not checked: "+err.Error())
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func nearestExisting(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
