// Package logger provides slog.Attr helpers shared across the broker.
//
// Attribute helpers use the empty Attr pattern for nil safety: a nil error
// yields an empty Attr that slog drops, so call sites never need explicit
// nil checks.
package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// Returns an empty Attr for nil errors.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Component tags log records with the emitting component name.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Channel tags log records with a broker channel name.
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// Subject tags log records with a subject identifier.
func Subject(id int64) slog.Attr {
	return slog.Int64("subject", id)
}

// Duration records an elapsed time under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Count records an integer quantity under the given key.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Reason records a human-readable denial or rejection reason. Returns an
// empty Attr when the reason is blank.
func Reason(reason string) slog.Attr {
	if reason == "" {
		return slog.Attr{}
	}
	return slog.String("reason", reason)
}
