package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pcbdrill/pcb-drill/internal/gcode"
	"github.com/pcbdrill/pcb-drill/internal/imagestore"
	"github.com/pcbdrill/pcb-drill/internal/library"
	"github.com/pcbdrill/pcb-drill/internal/protocol"
)

const (
	maxArgsBytes    = 1 << 20
	maxProgramBytes = 4 << 20
	healthTimeout   = 5 * time.Second
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	status := http.StatusOK

	if r.URL.Query().Get("daemon") == "1" {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if _, err := s.daemon.Do(ctx, "commands", nil); err != nil {
			s.logger.Warn("daemon health probe failed", "error", err)
			resp.Status = "degraded"
			resp.Daemon = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Daemon = "ok"
		}
	}
	respondJSON(w, status, resp)
}

// handleNewSession handles POST /session. Session ids key the worker's
// solder mask per browser.
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, SessionResponse{Session: id})
}

// handleCommand handles POST /command/{command}. The JSON body holds the
// keyword arguments. A failure envelope is relayed with 502 so callers can
// tell worker failures from transport ones.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxArgsBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxArgsBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "arguments too large")
		return
	}
	var args protocol.Args
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			s.writeError(w, http.StatusBadRequest, "arguments must be a JSON object")
			return
		}
	}
	if _, ok := args[protocol.CommandKey]; ok {
		s.writeError(w, http.StatusBadRequest, "the command is named by the path, not the body")
		return
	}

	ctx := r.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	if s.metrics != nil {
		defer s.metrics.Begin()()
	}
	start := s.now()
	resp, err := s.daemon.Do(ctx, command, args)
	elapsed := s.now().Sub(start).Seconds()

	if err != nil {
		status := http.StatusServiceUnavailable
		switch {
		case errors.Is(err, protocol.ErrEncoding):
			status = http.StatusBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		s.logger.Warn("command not delivered", "command", command, "error", err)
		s.observe(command, false, elapsed)
		s.events.Publish(EventCommand, CommandEvent{Command: command, Error: err.Error(), Status: status})
		s.writeError(w, status, err.Error())
		return
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadGateway
	}
	s.observe(command, resp.Success, elapsed)
	s.events.Publish(EventCommand, CommandEvent{
		Command: command,
		Success: resp.Success,
		Time:    resp.Time,
		Error:   resp.Error,
		Status:  status,
	})
	respondJSON(w, status, resp)
}

func (s *Server) observe(command string, success bool, seconds float64) {
	if s.metrics != nil {
		s.metrics.Observe(command, success, seconds)
	}
}

// handleListLibrary handles GET /library.
func (s *Server) handleListLibrary(w http.ResponseWriter, r *http.Request) {
	entries, err := s.library.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list library", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list library")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// handleReadLibrary handles GET /library/{name}. The BLAKE3 digest is the
// ETag; ?raw=1 returns the program as text.
func (s *Server) handleReadLibrary(w http.ResponseWriter, r *http.Request) {
	f, err := s.library.Read(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeLibraryError(w, err)
		return
	}

	etag := `"` + f.Digest + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.URL.Query().Get("raw") == "1" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+f.Name+`"`)
		_, _ = io.WriteString(w, f.Content)
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// handleWriteLibrary handles PUT /library/{name} with the program as the
// raw body.
func (s *Server) handleWriteLibrary(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(io.LimitReader(r.Body, maxProgramBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(content) > maxProgramBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "program too large")
		return
	}

	f, err := s.library.Write(r.Context(), chi.URLParam(r, "name"), string(content))
	if err != nil {
		s.writeLibraryError(w, err)
		return
	}
	s.events.Publish(EventLibrarySaved, LibraryEvent{Name: f.Name, Digest: f.Digest})
	w.Header().Set("ETag", `"`+f.Digest+`"`)
	respondJSON(w, http.StatusOK, f)
}

// handleAssemble handles POST /gcode/assemble.
func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 3*maxProgramBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp := AssembleResponse{GCode: gcode.Assemble(req.Prefix, req.Body, req.Postfix)}
	if req.Save != "" {
		f, err := s.library.Write(r.Context(), req.Save, resp.GCode)
		if err != nil {
			s.writeLibraryError(w, err)
			return
		}
		resp.Saved = f.Name
		resp.Digest = f.Digest
		s.events.Publish(EventLibrarySaved, LibraryEvent{Name: f.Name, Digest: f.Digest})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handlePreset handles POST /gcode/preset/{name}?line_numbers=&verbose_comments=
// and returns the rendered program as text without touching the library.
func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lineNumbers, err := queryBool(q.Get("line_numbers"), s.config.LineNumbers)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "line_numbers: "+err.Error())
		return
	}
	verbose, err := queryBool(q.Get("verbose_comments"), s.config.VerboseComments)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "verbose_comments: "+err.Error())
		return
	}

	program, err := library.Render(chi.URLParam(r, "name"),
		gcode.WithLineNumbers(lineNumbers),
		gcode.WithVerboseComments(verbose),
		gcode.WithHoleFormat(s.config.HoleFormat),
	)
	if err != nil {
		s.writeLibraryError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, program)
}

// handleGetImage handles GET /images/{name}.
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	path, err := s.images.Path(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	http.ServeFile(w, r, path)
}

// handlePutImage handles PUT /images/{name} with the image as the raw body.
func (s *Server) handlePutImage(w http.ResponseWriter, r *http.Request) {
	path, err := s.images.Save(r.Context(), chi.URLParam(r, "name"), r.Body, s.config.MaxUploadBytes)
	switch {
	case errors.Is(err, imagestore.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, imagestore.ErrTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to store upload", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store image")
		return
	}
	respondJSON(w, http.StatusCreated, ImageResponse{Name: filepath.Base(path)})
}

func (s *Server) writeLibraryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, library.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("library error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "library error")
	}
}

func queryBool(v string, def bool) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
