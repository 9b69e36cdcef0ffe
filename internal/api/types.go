package api

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	// Daemon is only filled when the probe asks for it with ?daemon=1.
	Daemon string `json:"daemon,omitempty"`
}

// SessionResponse is returned by POST /session.
type SessionResponse struct {
	Session string `json:"session"`
}

// AssembleRequest is the body of POST /gcode/assemble. The UI round-trips
// an edited body between the unchanged prefix and postfix.
type AssembleRequest struct {
	Prefix  string `json:"prefix"`
	Body    string `json:"body"`
	Postfix string `json:"postfix"`
	// Save stores the assembled program in the library under this name.
	Save string `json:"save,omitempty"`
}

// AssembleResponse is returned by POST /gcode/assemble.
type AssembleResponse struct {
	GCode  string `json:"gcode"`
	Saved  string `json:"saved,omitempty"`
	Digest string `json:"digest,omitempty"`
}

// ImageResponse is returned by PUT /images/{name}.
type ImageResponse struct {
	Name string `json:"name"`
}

// CommandEvent is published for every relayed command.
type CommandEvent struct {
	Command string  `json:"command"`
	Success bool    `json:"success"`
	Time    float64 `json:"time,omitempty"`
	Error   string  `json:"error,omitempty"`
	Status  int     `json:"status"`
}

// LibraryEvent is published when a program is saved.
type LibraryEvent struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Event types.
const (
	EventCommand      = "command.completed"
	EventLibrarySaved = "library.saved"
)
