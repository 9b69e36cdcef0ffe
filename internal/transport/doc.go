// Package transport carries request and response envelopes between the
// front-end and the worker.
//
// The server side is a Channel: many peers may submit requests, but they are
// queued into a single inbox and handed to the dispatcher one at a time.
// Receive returns the next request; Send routes the reply back to the peer
// that submitted it. A peer's request is not accepted into the inbox until the
// dispatcher asks for it, so request N+1 is never read before reply N is sent.
//
// Two implementations exist: Pipe, an in-memory pair used by tests and for
// embedding, and WebSocket, an http.Handler that accepts peers over
// github.com/gorilla/websocket. Dial is the matching client.
package transport
