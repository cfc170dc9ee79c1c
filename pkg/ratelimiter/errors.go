package ratelimiter

import "errors"

// Package-level error definitions for rate limiter operations.
var (
	ErrAlreadyStarted    = errors.New("memory store already started")
	ErrNotStarted        = errors.New("memory store not started")
	ErrCleanupDisabled   = errors.New("cleanup interval must be > 0")
	ErrHealthcheckFailed = errors.New("healthcheck failed")
)
