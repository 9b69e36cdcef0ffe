package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding is returned when a value cannot be carried by the wire format.
	ErrEncoding = errors.New("envelope encoding failed")
	// ErrDecoding is returned for malformed envelopes.
	ErrDecoding = errors.New("envelope decoding failed")
)

// EncodingError names the argument that could not be encoded.
type EncodingError struct {
	Key    string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("encode envelope: %s", e.Reason)
	}
	return fmt.Sprintf("encode envelope: argument %q: %s", e.Key, e.Reason)
}

func (e *EncodingError) Unwrap() error { return ErrEncoding }

// DecodingError describes why a payload was rejected.
type DecodingError struct {
	Reason string
	Err    error
}

func (e *DecodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodingError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecoding, e.Err}
	}
	return []error{ErrDecoding}
}

// ArgumentError reports a missing, unexpected or mistyped keyword argument.
type ArgumentError struct {
	Key    string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Key, e.Reason)
}
