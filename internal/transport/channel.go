package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned once a channel or connection has been closed.
	ErrClosed = errors.New("transport closed")
	// ErrNoPendingRequest is returned by Send when no request awaits a reply.
	ErrNoPendingRequest = errors.New("no request awaiting a reply")
	// ErrReplyPending is returned by Receive while the previous request has
	// not been answered.
	ErrReplyPending = errors.New("previous request has not been answered")
)

// Channel is the server side of a request/response channel.
type Channel interface {
	// Receive blocks until the next request arrives.
	Receive(ctx context.Context) ([]byte, error)
	// Send replies to the request returned by the last Receive.
	Send(data []byte) error
	Close() error
}

// Conn is the client side of a request/response channel.
type Conn interface {
	// RoundTrip sends one request and waits for its reply.
	RoundTrip(ctx context.Context, data []byte) ([]byte, error)
	Close() error
}

type exchange struct {
	request []byte
	reply   chan []byte
}

// inbox serializes requests from any number of peers.
type inbox struct {
	incoming  chan *exchange
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending *exchange
}

func newInbox() *inbox {
	return &inbox{
		incoming: make(chan *exchange),
		done:     make(chan struct{}),
	}
}

func (b *inbox) Receive(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	waiting := b.pending != nil
	b.mu.Unlock()
	if waiting {
		return nil, ErrReplyPending
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrClosed
	case ex := <-b.incoming:
		b.mu.Lock()
		b.pending = ex
		b.mu.Unlock()
		return ex.request, nil
	}
}

func (b *inbox) Send(data []byte) error {
	b.mu.Lock()
	ex := b.pending
	b.pending = nil
	b.mu.Unlock()

	if ex == nil {
		return ErrNoPendingRequest
	}
	// reply is buffered; a peer that gave up just never reads it
	ex.reply <- data
	return nil
}

func (b *inbox) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

// submit queues a request and waits for its reply.
func (b *inbox) submit(ctx context.Context, data []byte) ([]byte, error) {
	ex := &exchange{request: data, reply: make(chan []byte, 1)}

	select {
	case b.incoming <- ex:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrClosed
	}

	select {
	case reply := <-ex.reply:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrClosed
	}
}

type pipeConn struct {
	box *inbox
}

func (c *pipeConn) RoundTrip(ctx context.Context, data []byte) ([]byte, error) {
	return c.box.submit(ctx, data)
}

func (c *pipeConn) Close() error { return nil }

// Pipe returns a connected in-memory channel and client connection.
func Pipe() (Channel, Conn) {
	box := newInbox()
	return box, &pipeConn{box: box}
}
