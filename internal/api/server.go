// Package api is the HTTP front end of the drill. It relays commands to the
// worker through the client stub, serves the G-code library and stored
// images, and streams command outcomes to browsers.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pcbdrill/pcb-drill/internal/events"
	"github.com/pcbdrill/pcb-drill/internal/gcode"
	"github.com/pcbdrill/pcb-drill/internal/library"
	"github.com/pcbdrill/pcb-drill/internal/metrics"
	"github.com/pcbdrill/pcb-drill/internal/protocol"
)

// Daemon sends one request to the worker and returns its envelope.
type Daemon interface {
	Do(ctx context.Context, command string, args protocol.Args) (*protocol.Response, error)
}

// Library is the G-code file store.
type Library interface {
	List(ctx context.Context) ([]library.Entry, error)
	Read(ctx context.Context, name string) (*library.File, error)
	Write(ctx context.Context, name, content string) (*library.File, error)
}

// Images is the image directory shared with the worker.
type Images interface {
	Path(name string) (string, error)
	Save(ctx context.Context, name string, r io.Reader, limit int64) (string, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey protects everything except /healthz and /metrics when set.
	APIKey string
	// RequestTimeout bounds each relayed command. Zero means no limit.
	RequestTimeout time.Duration
	MaxUploadBytes int64
	// Preset generator defaults, overridable per request.
	LineNumbers     bool
	VerboseComments bool
	HoleFormat      string
}

// DefaultMaxUploadBytes caps image uploads.
const DefaultMaxUploadBytes = 32 << 20

// SessionCookie carries the browser's session id.
const SessionCookie = "pcb_drill_session"

// Server represents the HTTP API server.
type Server struct {
	config    Config
	daemon    Daemon
	library   Library
	images    Images
	logger    *slog.Logger
	metrics   *metrics.Collector
	gatherer  prometheus.Gatherer
	events    *events.Hub
	server    *http.Server
	startedAt time.Time
	now       func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics records relayed commands in c and serves g at /metrics.
func WithMetrics(c *metrics.Collector, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = c
		s.gatherer = g
	}
}

// WithEventHub replaces the default event buffer.
func WithEventHub(h *events.Hub) Option { return func(s *Server) { s.events = h } }

// New creates a new API server instance.
func New(config Config, daemon Daemon, lib Library, images Images, opts ...Option) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.HoleFormat == "" {
		config.HoleFormat = gcode.DefaultHoleFormat
	}
	s := &Server{
		config:    config,
		daemon:    daemon,
		library:   lib,
		images:    images,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		gatherer:  prometheus.DefaultGatherer,
		startedAt: time.Now(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = events.NewHub(256)
	}
	return s
}

// Events returns the hub command outcomes are published to.
func (s *Server) Events() *events.Hub { return s.events }

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.setupRoutes() }

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Commands such as capture_image can hold a response for minutes.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))

	r.Group(func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(s.authMiddleware)
		}
		r.Post("/session", s.handleNewSession)
		r.Post("/command/{command}", s.handleCommand)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Get("/events", s.handleEvents)

		r.Get("/library", s.handleListLibrary)
		r.Get("/library/{name}", s.handleReadLibrary)
		r.Put("/library/{name}", s.handleWriteLibrary)

		r.Post("/gcode/assemble", s.handleAssemble)
		r.Post("/gcode/preset/{name}", s.handlePreset)

		r.Get("/images/{name}", s.handleGetImage)
		r.Put("/images/{name}", s.handlePutImage)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
