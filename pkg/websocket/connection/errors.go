package connection

import "errors"

var (
	// ErrConnectionTimeout is returned when the handshake does not complete
	// within Config.ConnectTimeout.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrAuthenticationFailed marks a permanent close code from the server.
	// Reconnection is not attempted; retrying would repeat the same rejected
	// handshake.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotConnected is returned for operations that require a live socket.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned once the client has reached its terminal state.
	// A new Connect call on a fresh client is required to resume.
	ErrClosed = errors.New("connection closed")

	// ErrAlreadyConnected is returned by Connect while a session is live or
	// being established.
	ErrAlreadyConnected = errors.New("already connected or connecting")
)
