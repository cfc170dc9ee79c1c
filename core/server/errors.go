package server

import "errors"

var (
	// ErrMissingAddress is returned when the listen address is not provided.
	ErrMissingAddress = errors.New("server address is required")

	// ErrServerAlreadyRunning is returned when Start is called twice.
	ErrServerAlreadyRunning = errors.New("server is already running")

	// ErrFailedLoadCert is returned when the TLS key pair cannot be loaded.
	ErrFailedLoadCert = errors.New("failed to load certificate")
)
