package async

import "errors"

var (
	// ErrTimeout is returned when AwaitWithTimeout expires before completion.
	ErrTimeout = errors.New("async operation timed out")

	// ErrPanicked wraps a panic recovered from an asynchronously executed function.
	ErrPanicked = errors.New("async function panicked")

	// ErrNoFutures is returned when ExecAny is called without futures.
	ErrNoFutures = errors.New("no futures provided")
)
