package server

import "fmt"

// BindError is returned by Listen when the listen address cannot be bound.
type BindError struct {
	// Addr is the host:port that was requested
	Addr string
	// Underlying error (EADDRINUSE, EACCES, ...)
	Err error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// TransportError ends a single connection after a failed read or write.
// Other connections are not affected.
type TransportError struct {
	ConnectionID string
	RemoteAddr   string
	// Op is "read", "write" or "deadline"
	Op string
	// Underlying error
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed on connection %s (%s): %v", e.Op, e.ConnectionID, e.RemoteAddr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
