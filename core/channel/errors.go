package channel

import "errors"

var (
	// ErrUnknownChannel is returned when an operation references a channel
	// that is not registered.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrNotOwner is returned when a non-owning peer attempts a privileged
	// channel mutation.
	ErrNotOwner = errors.New("caller does not own channel")

	// ErrInvalidName is returned when a channel name is empty.
	ErrInvalidName = errors.New("channel name must not be empty")
)
