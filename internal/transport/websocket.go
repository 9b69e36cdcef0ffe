package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMessageBytes = 1 << 20
	writeTimeout    = 10 * time.Second
)

// WebSocket is a Channel whose peers connect over WebSocket. Mount it as an
// http.Handler.
type WebSocket struct {
	*inbox
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

var _ Channel = (*WebSocket)(nil)

// NewWebSocket creates a WebSocket channel. The channel runs on a trusted
// local link, so every origin is accepted.
func NewWebSocket(logger *slog.Logger) *WebSocket {
	return &WebSocket{
		inbox: newInbox(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the connection and relays its requests into the inbox.
func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageBytes)
	ws.logger.Debug("peer connected", "remote", r.RemoteAddr)
	defer ws.logger.Debug("peer disconnected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-ws.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-ctx.Done():
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Warn("websocket read error", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		reply, err := ws.submit(ctx, message)
		if err != nil {
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			ws.logger.Warn("websocket write error", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

type wsConn struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	broken    error
	closeOnce sync.Once
}

// Dial connects to a WebSocket channel, e.g. "ws://127.0.0.1:5555/rpc".
func Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(64 * maxMessageBytes)
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) RoundTrip(ctx context.Context, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return nil, c.broken
	}

	// Unblock the socket if ctx ends mid-exchange. The connection cannot be
	// reused afterwards since the reply may still arrive.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, c.fail(ctx, fmt.Errorf("write request: %w", err))
	}
	_, reply, err := c.conn.ReadMessage()
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("read response: %w", err))
	}
	return reply, nil
}

func (c *wsConn) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		err = fmt.Errorf("%w (%v)", ctx.Err(), err)
	}
	c.broken = err
	return err
}

// Close may be called while a RoundTrip is blocked; the round trip fails.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
