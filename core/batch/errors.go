package batch

import "errors"

var (
	// ErrDispatcherNil is returned when a scheduler is created without a dispatcher.
	ErrDispatcherNil = errors.New("dispatcher is nil")

	// ErrLimitsNil is returned when a scheduler is created without a limits resolver.
	ErrLimitsNil = errors.New("limits resolver is nil")

	// ErrSchedulerAlreadyStarted is returned when starting a running scheduler.
	ErrSchedulerAlreadyStarted = errors.New("scheduler already started")

	// ErrSchedulerNotStarted is returned when stopping a scheduler that is not running.
	ErrSchedulerNotStarted = errors.New("scheduler not started")

	// ErrHealthcheckFailed marks a failed scheduler healthcheck.
	ErrHealthcheckFailed = errors.New("healthcheck failed")
)
