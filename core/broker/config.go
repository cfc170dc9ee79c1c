package broker

import "time"

// Config holds the broker-wide defaults merged under per-channel options.
// Designed for environment-based configuration using popular env parsing
// libraries.
type Config struct {
	// TickInterval is the base batch drain rate (~60 Hz by default). The
	// effective rate is lowered to the smallest registered per-channel
	// batch interval.
	TickInterval time.Duration `env:"BROKER_TICK_INTERVAL" envDefault:"16ms"`

	// RateLimitWindow is the rolling window width for per-(channel,
	// subject) call counting.
	RateLimitWindow time.Duration `env:"BROKER_RATE_LIMIT_WINDOW" envDefault:"10s"`

	// Channel defaults applied when Register omits an option.
	DefaultRateLimit      int `env:"BROKER_DEFAULT_RATE_LIMIT" envDefault:"30"`
	DefaultPriority       int `env:"BROKER_DEFAULT_PRIORITY" envDefault:"5"`
	DefaultMaxPayloadSize int `env:"BROKER_DEFAULT_MAX_PAYLOAD_SIZE" envDefault:"102400"`

	// ShutdownTimeout bounds how long Stop waits for in-flight handlers.
	ShutdownTimeout time.Duration `env:"BROKER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:          16 * time.Millisecond,
		RateLimitWindow:       10 * time.Second,
		DefaultRateLimit:      30,
		DefaultPriority:       5,
		DefaultMaxPayloadSize: 102400,
		ShutdownTimeout:       30 * time.Second,
	}
}

// normalized fills zero fields with documented defaults.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = def.RateLimitWindow
	}
	if c.DefaultRateLimit <= 0 {
		c.DefaultRateLimit = def.DefaultRateLimit
	}
	if c.DefaultPriority <= 0 {
		c.DefaultPriority = def.DefaultPriority
	}
	if c.DefaultMaxPayloadSize <= 0 {
		c.DefaultMaxPayloadSize = def.DefaultMaxPayloadSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}
