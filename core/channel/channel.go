package channel

import (
	"context"
	"time"

	"github.com/chanbus/chanbus/core/payload"
	"github.com/chanbus/chanbus/core/transport"
)

// Documented channel defaults.
const (
	DefaultRateLimit      = 30
	DefaultPriority       = 5
	DefaultMaxPayloadSize = 102400

	MinPriority = 1
	MaxPriority = 10
)

// FilterFunc inspects an inbound peer message before fan-out. Returning
// blocked drops the message; a non-nil replacement supersedes the original
// payload for all downstream delivery.
type FilterFunc func(subject transport.Subject, values []payload.Value) (blocked bool, reason string, replacement []payload.Value)

// AccessFunc decides whether a subject may subscribe to a channel.
type AccessFunc func(subject transport.Subject) bool

// HandlerFunc is a local delivery callback. Handlers only ever see the
// sender and the payload, never the broker's bookkeeping.
type HandlerFunc func(ctx context.Context, sender transport.Subject, values []payload.Value) error

// Channel is one named topic's configuration. Values handed out by the
// registry are snapshots; mutation goes through registry methods.
type Channel struct {
	Name            string
	RateLimit       int
	Priority        int
	MaxPayloadSize  int
	BatchInterval   time.Duration
	BatchingEnabled bool
	Owner           transport.Subject

	filter      FilterFunc
	accessCheck AccessFunc
	handlers    []HandlerFunc
	subscribers map[transport.Subject]struct{}
}

// Defaults carries the registry-wide fallback configuration merged under
// per-channel options at registration time.
type Defaults struct {
	RateLimit      int
	Priority       int
	MaxPayloadSize int
	BatchInterval  time.Duration
}

func (d Defaults) normalized() Defaults {
	if d.RateLimit <= 0 {
		d.RateLimit = DefaultRateLimit
	}
	if d.Priority <= 0 {
		d.Priority = DefaultPriority
	}
	if d.MaxPayloadSize <= 0 {
		d.MaxPayloadSize = DefaultMaxPayloadSize
	}
	return d
}

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
