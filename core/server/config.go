package server

import (
	"crypto/tls"
	"fmt"
	"time"
)

// Config holds listener configuration with environment variable support.
type Config struct {
	Addr string `env:"LISTEN_ADDR" envDefault:":8080"`

	IdleTimeout     time.Duration `env:"LISTEN_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"LISTEN_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxHeaderBytes  int           `env:"LISTEN_MAX_HEADER_BYTES" envDefault:"1048576"`

	// TLS is enabled when both paths are set.
	TLSCertFile string `env:"LISTEN_TLS_CERT_FILE" envDefault:""`
	TLSKeyFile  string `env:"LISTEN_TLS_KEY_FILE" envDefault:""`
}

// NewFromConfig creates a Server from configuration. Additional options
// override config values.
func NewFromConfig(cfg Config, opts ...Option) (*Server, error) {
	if cfg.Addr == "" {
		return nil, ErrMissingAddress
	}

	configOpts := []Option{
		WithIdleTimeout(cfg.IdleTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithMaxHeaderBytes(cfg.MaxHeaderBytes),
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedLoadCert, err)
		}
		configOpts = append(configOpts, WithTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}))
	}

	configOpts = append(configOpts, opts...)
	return New(cfg.Addr, configOpts...), nil
}
