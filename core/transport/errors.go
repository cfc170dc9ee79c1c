package transport

import "errors"

var (
	// ErrSetupNotReady is returned when the far side of the wire is not
	// available yet; the caller should retry later.
	ErrSetupNotReady = errors.New("transport endpoints not ready")

	// ErrUnknownSubject is returned when a message addresses a subject the
	// transport has no connection for.
	ErrUnknownSubject = errors.New("unknown subject")

	// ErrClosed is returned on operations against a closed endpoint.
	ErrClosed = errors.New("transport closed")
)
