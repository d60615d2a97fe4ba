package client

import "errors"

var (
	// ErrDaemonNotRunning means nothing listens on the gl7ctl socket.
	ErrDaemonNotRunning = errors.New("gl7ctl daemon not running")

	// ErrPermissionDenied means the socket exists but the caller may not
	// connect to it.
	ErrPermissionDenied = errors.New("permission denied on gl7ctl socket")

	// ErrNotFound is returned for an unknown channel, output or route, or
	// when no cooldown has been started.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the request clashes with the cooldown
	// in progress: a second start, a manual heater or switch change, or a
	// confirm/abort with nothing to act on.
	ErrConflict = errors.New("conflicts with cooldown state")
)
