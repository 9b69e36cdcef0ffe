package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/metrics"
	"github.com/pcbdrill/pcb-drill/internal/protocol"
	"github.com/pcbdrill/pcb-drill/internal/transport"
)

const (
	// receiveBackoff is the pause after a receive error that is not a shutdown.
	receiveBackoff = 100 * time.Millisecond

	maxTraceDepth = 16
)

// Record describes one handled request.
type Record struct {
	ID       string
	Command  string
	Success  bool
	Duration time.Duration
	Error    string
	At       time.Time
}

// Recorder persists request records. Recording failures are logged and
// otherwise ignored.
type Recorder interface {
	RecordRequest(ctx context.Context, rec Record) error
}

type requestIDKey struct{}

// RequestID returns the id of the request being handled, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Server is the serial dispatch loop.
type Server struct {
	channel  transport.Channel
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Collector
	recorder Recorder
	timeout  time.Duration
	now      func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger. The default is the "dispatch" component
// logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMetrics enables per-request metrics.
func WithMetrics(c *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = c }
}

// WithRecorder stores a Record for every handled request.
func WithRecorder(r Recorder) ServerOption {
	return func(s *Server) { s.recorder = r }
}

// WithRequestTimeout bounds each handler call. Zero means no limit.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.timeout = d }
}

// NewServer creates a Server reading from ch and dispatching into reg.
func NewServer(ch transport.Channel, reg *Registry, opts ...ServerOption) *Server {
	s := &Server{
		channel:  ch,
		registry: reg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithComponent("dispatch")
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector(nil)
	}
	return s
}

// Serve runs the dispatch loop until ctx is cancelled or the channel closes.
// A closed channel ends the loop without error.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("dispatch loop started", "commands", strings.Join(s.registry.Names(), ","))
	defer s.logger.Info("dispatch loop stopped")

	for {
		payload, err := s.channel.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			s.logger.Warn("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(receiveBackoff):
			}
			continue
		}
		s.handle(ctx, payload)
	}
}

// handle processes one payload. The reply is sent from the deferred block so
// that every path, including a panic outside the handler, answers the peer.
func (s *Server) handle(ctx context.Context, payload []byte) {
	id := uuid.NewString()
	logger := log.WithRequest(s.logger, id)
	started := s.now()
	end := s.metrics.Begin()

	var (
		command string
		resp    *protocol.Response
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch panic", "panic", r)
			resp = protocol.Failure(&PanicError{Value: r}, string(debug.Stack()))
		}
		if resp == nil {
			resp = protocol.Failure(nil, "")
		}
		end()
		s.reply(logger, resp)
		s.finish(ctx, id, command, resp, s.now().Sub(started), logger)
	}()

	command, args, err := protocol.DecodeRequest(payload)
	if err != nil {
		logger.Warn("invalid request", "error", err)
		resp = protocol.Failure(err, errorTrace(err))
		return
	}
	logger = log.WithCommand(logger, command)

	method, err := s.registry.Lookup(command)
	if err != nil {
		logger.Warn("unknown command")
		resp = protocol.Failure(err, errorTrace(err))
		return
	}

	logger.Debug("handling request", "args", len(args))
	resp = s.invoke(ctx, id, method, args, logger)
}

// invoke calls the method and times only the call itself.
func (s *Server) invoke(ctx context.Context, id string, m Method, args protocol.Args, logger *slog.Logger) (resp *protocol.Response) {
	ctx = context.WithValue(ctx, requestIDKey{}, id)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			logger.Error("handler panic", "panic", r)
			resp = protocol.Failure(&HandlerError{Command: m.Name, Err: &PanicError{Value: r}}, stack)
		}
	}()

	started := s.now()
	output, err := m.Func(ctx, args)
	elapsed := s.now().Sub(started)

	if err != nil {
		herr := &HandlerError{Command: m.Name, Err: err}
		logger.Warn("handler failed", "error", err, "elapsed", elapsed)
		return protocol.Failure(herr, errorTrace(herr))
	}
	return protocol.Success(output, elapsed)
}

func (s *Server) reply(logger *slog.Logger, resp *protocol.Response) {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		logger.Error("response not encodable", "error", err)
		*resp = *protocol.Failure(fmt.Errorf("encode response: %w", err), errorTrace(err))
		data, err = protocol.EncodeResponse(resp)
		if err != nil {
			logger.Error("failure envelope not encodable", "error", err)
			return
		}
	}
	if err := s.channel.Send(data); err != nil {
		logger.Warn("send failed", "error", err)
	}
}

func (s *Server) finish(ctx context.Context, id, command string, resp *protocol.Response, total time.Duration, logger *slog.Logger) {
	handlerTime := resp.Duration()
	if !resp.Success {
		handlerTime = total
	}
	s.metrics.Observe(command, resp.Success, handlerTime.Seconds())

	if resp.Success {
		logger.Info("request handled", "elapsed", handlerTime)
	}

	if s.recorder == nil {
		return
	}
	rec := Record{
		ID:       id,
		Command:  command,
		Success:  resp.Success,
		Duration: handlerTime,
		Error:    resp.Error,
		At:       s.now().UTC(),
	}
	if err := s.recorder.RecordRequest(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("record request failed", "error", err)
	}
}

// errorTrace renders the chain of wrapped errors, outermost first.
func errorTrace(err error) string {
	var b strings.Builder
	b.WriteString("error chain:\n")
	var walk func(e error, depth int)
	walk = func(e error, depth int) {
		if e == nil || depth > maxTraceDepth {
			return
		}
		fmt.Fprintf(&b, "%s%T: %s\n", strings.Repeat("  ", depth+1), e, e.Error())
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap(), depth+1)
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner, depth+1)
			}
		}
	}
	walk(err, 0)
	return b.String()
}
