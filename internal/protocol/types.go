package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandKey is the reserved envelope key naming the operation to invoke.
const CommandKey = "command"

// Args holds the keyword arguments of a request envelope (every key except
// "command").
type Args map[string]any

// Response is the reply envelope for a single request. Exactly one of the two
// variants is meaningful: Success=true carries Output and Time, Success=false
// carries Error and Exception.
type Response struct {
	Success   bool
	Output    any
	Time      float64 // seconds spent in the handler
	Error     string
	Exception string
}

type successWire struct {
	Success bool    `json:"success"`
	Output  any     `json:"output"`
	Time    float64 `json:"time"`
}

type failureWire struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Exception string `json:"exception"`
}

// Success builds a success envelope.
func Success(output any, elapsed time.Duration) *Response {
	return &Response{Success: true, Output: output, Time: elapsed.Seconds()}
}

// Failure builds a failure envelope from err and a textual stack trace.
func Failure(err error, trace string) *Response {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &Response{Success: false, Error: msg, Exception: trace}
}

// Duration returns the handler time of a success envelope.
func (r *Response) Duration() time.Duration {
	return time.Duration(r.Time * float64(time.Second))
}

// MarshalJSON emits only the fields of the active variant.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(successWire{Success: true, Output: r.Output, Time: r.Time})
	}
	return json.Marshal(failureWire{Success: false, Error: r.Error, Exception: r.Exception})
}

// UnmarshalJSON rejects envelopes that mix or omit variant fields.
func (r *Response) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("response is not an object")
	}

	rawSuccess, ok := fields["success"]
	if !ok {
		return fmt.Errorf("response missing required field: success")
	}
	var success bool
	if err := json.Unmarshal(rawSuccess, &success); err != nil {
		return fmt.Errorf("invalid success value: %w", err)
	}

	if success {
		if _, ok := fields["error"]; ok {
			return fmt.Errorf("success response must not carry an error")
		}
		rawTime, ok := fields["time"]
		if !ok {
			return fmt.Errorf("success response missing required field: time")
		}
		var w successWire
		if err := json.Unmarshal(rawTime, &w.Time); err != nil {
			return fmt.Errorf("invalid time value: %w", err)
		}
		if rawOutput, ok := fields["output"]; ok {
			if err := json.Unmarshal(rawOutput, &w.Output); err != nil {
				return fmt.Errorf("invalid output value: %w", err)
			}
		}
		*r = Response{Success: true, Output: w.Output, Time: w.Time}
		return nil
	}

	if _, ok := fields["output"]; ok {
		return fmt.Errorf("failure response must not carry output")
	}
	var w failureWire
	if rawErr, ok := fields["error"]; ok {
		if err := json.Unmarshal(rawErr, &w.Error); err != nil {
			return fmt.Errorf("invalid error value: %w", err)
		}
	}
	if w.Error == "" {
		return fmt.Errorf("response has success=false but no error message")
	}
	if rawExc, ok := fields["exception"]; ok {
		if err := json.Unmarshal(rawExc, &w.Exception); err != nil {
			return fmt.Errorf("invalid exception value: %w", err)
		}
	}
	*r = Response{Success: false, Error: w.Error, Exception: w.Exception}
	return nil
}
