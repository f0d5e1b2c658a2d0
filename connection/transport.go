// Package connection implements the per-connection state machine (the
// lifecycle states and their legal transitions) and the monotonic
// counters the monitor reads. The handshake and steady-state message
// dispatch that drive it live in package server.
package connection

import "context"

// Transport abstracts the full-duplex framed message stream a
// Connection wraps. Only the owning Connection may call these methods;
// no other component reads from or writes to a transport directly.
type Transport interface {
	// Receive blocks until one JSON-object text frame arrives, or ctx is
	// cancelled, or the transport is closed.
	Receive(ctx context.Context) ([]byte, error)
	// Send writes one JSON-object text frame.
	Send(ctx context.Context, data []byte) error
	// Close terminates the transport with a standard close code and a
	// human-readable reason (1013 for capacity overload, normal close
	// for graceful shutdown).
	Close(code int, reason string) error
	// IsClosed reports whether Close has already run.
	IsClosed() bool
}

// Standard close codes used by this protocol.
const (
	CloseNormal   = 1000
	CloseOverload = 1013
)
