// Package dispatch serves the worker's request/response channel.
//
// A Server receives one request envelope at a time from a transport.Channel,
// looks the named command up in a Registry, invokes it and sends exactly one
// response envelope back before receiving the next request.
//
// Every exit path produces a response:
//   - Undecodable envelope → failure, decoding error
//   - Unknown command → failure, ErrUnknownCommand
//   - Handler returns an error → failure, ErrHandler with the error chain as trace
//   - Handler panics → failure, ErrHandler with the goroutine stack as trace
//   - Output that cannot be encoded → failure, encoding error
//
// A failed request never stops the loop. Serve returns when its context is
// cancelled or the channel is closed.
//
// Each request is assigned a UUID which appears in every log line for that
// request, is available to handlers through RequestID, and is passed to the
// optional Recorder.
package dispatch
