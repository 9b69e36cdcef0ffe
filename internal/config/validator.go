package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/pcbdrill/pcb-drill/internal/gcode"
)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
)

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if err := c.checkUnresolvedEnvVars(); err != nil {
		return err
	}

	d := c.Daemon
	if err := validateListen("daemon.listen", d.Listen); err != nil {
		return err
	}
	if d.Ops.Listen != "" {
		if err := validateListen("daemon.ops.listen", d.Ops.Listen); err != nil {
			return err
		}
	}
	if strings.TrimSpace(d.ImageStorage) == "" {
		return fmt.Errorf("daemon.image_storage is required")
	}
	if err := validateLogging("daemon", d.LogLevel, d.LogFormat); err != nil {
		return err
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("daemon.width and daemon.height must be positive (got %dx%d)", d.Width, d.Height)
	}
	if d.RequestTimeout < 0 || d.ImageRetention < 0 || d.RequestLogRetention < 0 {
		return fmt.Errorf("daemon durations must not be negative")
	}
	if strings.TrimSpace(d.CameraCommand) == "" {
		return fmt.Errorf("daemon.camera_command is required")
	}

	w := c.Web
	if err := validateListen("web.listen", w.Listen); err != nil {
		return err
	}
	u, err := url.Parse(w.DaemonURL)
	if err != nil {
		return fmt.Errorf("web.daemon_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("web.daemon_url must use ws or wss (got %q)", w.DaemonURL)
	}
	if strings.TrimSpace(w.GCodeLibrary) == "" {
		return fmt.Errorf("web.gcode_library is required")
	}
	if err := validateLogging("web", w.LogLevel, w.LogFormat); err != nil {
		return err
	}
	if w.RequestTimeout < 0 {
		return fmt.Errorf("web.request_timeout must not be negative")
	}

	if _, err := gcode.FormatCoordinate(c.GCode.HoleFormat, gcode.C(0, 0)); err != nil {
		return fmt.Errorf("gcode.hole_format: %w", err)
	}
	return nil
}

func validateListen(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

func validateLogging(section, level, format string) error {
	if !validLogLevels[strings.ToLower(level)] {
		return fmt.Errorf("%s.log_level must be one of: debug, info, warn, error (got %q)", section, level)
	}
	if !validLogFormats[strings.ToLower(format)] {
		return fmt.Errorf("%s.log_format must be json or text (got %q)", section, format)
	}
	return nil
}

// checkUnresolvedEnvVars rejects ${VAR} placeholders left by interpolation.
func (c *Config) checkUnresolvedEnvVars() error {
	fields := map[string]string{
		"daemon.listen":                 c.Daemon.Listen,
		"daemon.image_storage":          c.Daemon.ImageStorage,
		"daemon.user":                   c.Daemon.User,
		"daemon.group":                  c.Daemon.Group,
		"daemon.pid_file":               c.Daemon.PIDFile,
		"daemon.state_path":             c.Daemon.StatePath,
		"daemon.camera_command":         c.Daemon.CameraCommand,
		"daemon.camera_preview_command": c.Daemon.CameraPreviewCommand,
		"daemon.ops.listen":             c.Daemon.Ops.Listen,
		"web.listen":                    c.Web.Listen,
		"web.daemon_url":                c.Web.DaemonURL,
		"web.gcode_library":             c.Web.GCodeLibrary,
		"web.image_storage":             c.Web.ImageStorage,
		"web.api_key":                   c.Web.APIKey,
		"gcode.prefix":                  c.GCode.Prefix,
		"gcode.postfix":                 c.GCode.Postfix,
	}
	var errs []error
	for field, value := range fields {
		if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
			errs = append(errs, fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1]))
		}
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return errors.Join(errs...)
	}
	return nil
}
