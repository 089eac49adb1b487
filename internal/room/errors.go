package room

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRoom is returned by room-scoped actions when no room is selected.
	ErrNoRoom = errors.New("room: no room selected")

	// ErrNotConnected is returned by actions that need a live connection.
	ErrNotConnected = errors.New("room: not connected")

	// ErrAlreadyConnected is returned by Connect unless the client is
	// disconnected.
	ErrAlreadyConnected = errors.New("room: already connected")

	// ErrClosed is returned after Disconnect.
	ErrClosed = errors.New("room: client closed")
)

// TransportError wraps a failure of the real-time connection. Connect
// failures are retried; send failures are logged and swallowed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("room: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RestError wraps a failed REST call made while loading room state. The
// operation is aborted and not retried.
type RestError struct {
	Op  string
	Err error
}

func (e *RestError) Error() string {
	return fmt.Sprintf("room: %s: %v", e.Op, e.Err)
}

func (e *RestError) Unwrap() error { return e.Err }

// ServerError is a failure notice pushed by the server on the user error
// channel.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server: " + e.Message
}
