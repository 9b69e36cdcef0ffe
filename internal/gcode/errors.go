package gcode

import (
	"errors"
	"fmt"
)

var (
	// ErrBodyNotAvailable is returned by Body before the first Generate.
	ErrBodyNotAvailable = errors.New("body is not available until generate has been called")
	// ErrFormat is returned when a coordinate cannot be rendered.
	ErrFormat = errors.New("coordinate format error")
)

// FormatError describes a hole format or coordinate arity mismatch.
type FormatError struct {
	Format string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("format coordinate: %s", e.Reason)
	}
	return fmt.Sprintf("format coordinate with %q: %s", e.Format, e.Reason)
}

func (e *FormatError) Unwrap() error { return ErrFormat }
