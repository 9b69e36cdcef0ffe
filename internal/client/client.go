// Package client is the front-end stub for the worker's dispatch channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/protocol"
	"github.com/pcbdrill/pcb-drill/internal/transport"
)

// ErrDaemon is matched by every DaemonError.
var ErrDaemon = errors.New("daemon reported failure")

// DaemonError is returned by Call when the worker answered with a failure
// envelope.
type DaemonError struct {
	Command  string
	Response *protocol.Response
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Response.Error)
}

func (e *DaemonError) Unwrap() error { return ErrDaemon }

// Trace returns the worker side trace text.
func (e *DaemonError) Trace() string { return e.Response.Exception }

// Client sends requests over one connection. Calls are serialized since the
// channel carries one request at a time.
type Client struct {
	mu     sync.Mutex
	conn   transport.Conn
	dial   func(ctx context.Context) (transport.Conn, error)
	logger *slog.Logger
}

// New wraps an established connection.
func New(conn transport.Conn) *Client {
	return &Client{conn: conn, logger: log.WithComponent("client")}
}

// Dial connects to the worker at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, err := transport.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Lazy returns a client that connects to url on first use and reconnects
// on the next call after a transport failure, so a long running front end
// survives worker restarts.
func Lazy(url string) *Client {
	return &Client{
		dial: func(ctx context.Context) (transport.Conn, error) {
			return transport.Dial(ctx, url)
		},
		logger: log.WithComponent("client"),
	}
}

// Do sends one request and returns the decoded response, whether it reports
// success or failure.
func (c *Client) Do(ctx context.Context, command string, args protocol.Args) (*protocol.Response, error) {
	payload, err := protocol.EncodeRequest(command, args)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if c.dial == nil {
			return nil, fmt.Errorf("call %s: %w", command, transport.ErrClosed)
		}
		conn, err := c.dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", command, err)
		}
		c.conn = conn
	}

	c.logger.Debug("sending request", "command", command)
	data, err := c.conn.RoundTrip(ctx, payload)
	if err != nil {
		if c.dial != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		return nil, fmt.Errorf("call %s: %w", command, err)
	}

	resp, err := protocol.DecodeResponse(data)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", command, err)
	}
	return resp, nil
}

// Call is like Do but turns a failure envelope into a *DaemonError.
func (c *Client) Call(ctx context.Context, command string, args protocol.Args) (*protocol.Response, error) {
	resp, err := c.Do(ctx, command, args)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		c.logger.Warn("daemon error", "command", command, "error", resp.Error)
		return resp, &DaemonError{Command: command, Response: resp}
	}
	return resp, nil
}

// Output is a convenience for handlers returning objects: it calls command
// and returns the output as a map.
func (c *Client) Output(ctx context.Context, command string, args protocol.Args) (map[string]any, error) {
	resp, err := c.Call(ctx, command, args)
	if err != nil {
		return nil, err
	}
	out, ok := resp.Output.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("call %s: output is %T, not an object", command, resp.Output)
	}
	return out, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	if c.dial != nil {
		c.conn = nil
	}
	return err
}
