package pushws

import "errors"

// Domain errors for the push-channel client.
var (
	// ErrNotConnected is returned by Emit before the socket is open.
	ErrNotConnected = errors.New("pushws: not connected")

	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("pushws: connection closed")

	// ErrUnsupportedTransport is returned by Dial for any transport other
	// than websocket.
	ErrUnsupportedTransport = errors.New("pushws: unsupported transport")

	// ErrReconnection is returned by Dial when transport-level
	// reconnection is requested; the owner handles retries.
	ErrReconnection = errors.New("pushws: transport reconnection is not supported")

	// ErrInvalidURL is returned by Dial for a missing or non-WebSocket URL.
	ErrInvalidURL = errors.New("pushws: invalid URL")
)
