package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand is returned when a request names no registered method.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrHandler marks failures raised by a method while handling a request.
	ErrHandler = errors.New("handler failed")
	// ErrInvalidMethod is returned when a method cannot be registered.
	ErrInvalidMethod = errors.New("invalid method")
)

// UnknownCommandError names the command that could not be found.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Command)
}

func (e *UnknownCommandError) Unwrap() error { return ErrUnknownCommand }

// HandlerError wraps the error a method returned (or the value it panicked
// with) for a command.
type HandlerError struct {
	Command string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *HandlerError) Unwrap() []error { return []error{ErrHandler, e.Err} }

// MethodError reports why a method was rejected at registration.
type MethodError struct {
	Name   string
	Reason string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("method %q: %s", e.Name, e.Reason)
}

func (e *MethodError) Unwrap() error { return ErrInvalidMethod }

// PanicError carries a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
