// Package session owns the msgpack-RPC connection to the editing engine.
//
// A Session issues typed requests (input, buffer text, cursor, buffer
// attachment) and turns the engine's raw notifications into a closed set
// of typed values, delivered to a Listener supplied at construction time.
//
// Notification flow:
//
//	transport goroutine
//	  -> Decode(method, args)       closed Notification / Op variants
//	  -> dispatch                   mode stored, cursor follow-up started
//	  -> Listener callbacks         OnModeChange, OnCursor, OnLines, ...
//
// Listener callbacks run on the transport goroutine (OnCursor runs on a
// follow-up goroutine). Implementations that touch host state must hand
// the work to their own scheduler.
//
// Every request takes a context.Context. The underlying RPC cannot be
// cancelled, so the context bounds how long the caller waits, not the
// call itself.
package session
