//go:build linux

package sdlink

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultConnectAttempts is the number of connect tries before a
	// connection gives up. Early after discovery the remote side may not be
	// listening yet.
	DefaultConnectAttempts = 4
	// DefaultConnectRetryDelay is the pause between failed connect attempts.
	DefaultConnectRetryDelay = 2 * time.Second
	// DefaultReadBufferSize is the per-read receive buffer size in bytes.
	DefaultReadBufferSize = 4096
)

// Option defines a functional option for NewConnection/NewAdapter.
type Option func(*Config)

// Config holds runtime settings for a connection. Users should modify it
// through functional options.
type Config struct {
	logger  *zap.Logger
	metrics Metrics

	connectAttempts   int
	connectRetryDelay time.Duration
	readBufferSize    int
}

// Validate checks if the configuration is sane and valid.
func (c *Config) Validate() error {
	if c.connectAttempts < 1 {
		return ErrInvalidConfig
	}
	if c.readBufferSize < 1 {
		return ErrInvalidConfig
	}
	return nil
}

// defaultConfig returns config with library defaults.
func defaultConfig() *Config {
	return &Config{
		logger:            zap.NewNop(),
		metrics:           NewDefaultMetrics(),
		connectAttempts:   DefaultConnectAttempts,
		connectRetryDelay: DefaultConnectRetryDelay,
		readBufferSize:    DefaultReadBufferSize,
	}
}

// applyConfig builds a runtime config by applying the given options on top of defaults.
func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithLogger sets the logger used by connection workers. The default is a
// no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets a custom metrics implementation for tracking connection
// statistics. If not provided, a default implementation with atomic counters
// will be used.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithConnectAttempts sets how many times a connection tries to reach the
// remote endpoint before giving up.
func WithConnectAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.connectAttempts = n
		}
	}
}

// WithConnectRetryDelay sets the pause between failed connect attempts.
func WithConnectRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectRetryDelay = d
		}
	}
}

// WithReadBufferSize sets the receive buffer size used by the worker.
func WithReadBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.readBufferSize = n
		}
	}
}
