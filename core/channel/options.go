package channel

import (
	"time"

	"github.com/chanbus/chanbus/core/transport"
)

// settings collects per-channel overrides applied on top of the registry
// defaults at registration time.
type settings struct {
	rateLimit      *int
	priority       *int
	maxPayloadSize *int
	batchInterval  *time.Duration
	batching       *bool
	filter         FilterFunc
	access         AccessFunc
	accessSet      bool
}

// Option configures a channel at registration.
type Option func(*settings)

// WithRateLimit sets the maximum calls per rate-limit window. Values below
// zero are treated as zero (every call denied).
func WithRateLimit(n int) Option {
	return func(s *settings) {
		if n < 0 {
			n = 0
		}
		s.rateLimit = &n
	}
}

// WithPriority sets the channel's batch priority, clamped to [1, 10].
func WithPriority(p int) Option {
	return func(s *settings) {
		p = clampPriority(p)
		s.priority = &p
	}
}

// WithMaxPayloadSize sets the per-message and per-batch size budget in bytes.
func WithMaxPayloadSize(bytes int) Option {
	return func(s *settings) {
		if bytes < 0 {
			bytes = 0
		}
		s.maxPayloadSize = &bytes
	}
}

// WithBatchInterval sets how often the channel's queue is drained.
func WithBatchInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.batchInterval = &d
		}
	}
}

// WithBatching enables or disables send batching for the channel.
func WithBatching(enabled bool) Option {
	return func(s *settings) {
		s.batching = &enabled
	}
}

// WithFilter installs the content filter predicate.
func WithFilter(fn FilterFunc) Option {
	return func(s *settings) {
		s.filter = fn
	}
}

// WithAccessCheck installs the subscription access predicate.
func WithAccessCheck(fn AccessFunc) Option {
	return func(s *settings) {
		s.access = fn
		s.accessSet = true
	}
}

// ToConfig reduces registration options to their wire-safe form for a
// create-channel request. Predicates do not cross the wire and are omitted.
func ToConfig(opts ...Option) transport.ChannelConfig {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	var cfg transport.ChannelConfig
	if s.rateLimit != nil {
		cfg.RateLimit = *s.rateLimit
	}
	if s.priority != nil {
		cfg.Priority = *s.priority
	}
	if s.maxPayloadSize != nil {
		cfg.MaxPayloadSize = *s.maxPayloadSize
	}
	if s.batchInterval != nil {
		cfg.BatchInterval = *s.batchInterval
	}
	if s.batching != nil && !*s.batching {
		cfg.DisableBatching = true
	}
	return cfg
}

// FromConfig converts wire-level channel options into registration options.
func FromConfig(cfg transport.ChannelConfig) []Option {
	var opts []Option
	if cfg.RateLimit > 0 {
		opts = append(opts, WithRateLimit(cfg.RateLimit))
	}
	if cfg.Priority > 0 {
		opts = append(opts, WithPriority(cfg.Priority))
	}
	if cfg.MaxPayloadSize > 0 {
		opts = append(opts, WithMaxPayloadSize(cfg.MaxPayloadSize))
	}
	if cfg.BatchInterval > 0 {
		opts = append(opts, WithBatchInterval(cfg.BatchInterval))
	}
	if cfg.DisableBatching {
		opts = append(opts, WithBatching(false))
	}
	return opts
}
