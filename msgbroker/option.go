package msgbroker

import (
	"errors"
	"time"
)

// DefaultRegisterHandlerConfig is the default config for topic handlers.
var DefaultRegisterHandlerConfig = RegisterHandlerConfig{
	AckDeadline: time.Second * 10,
}

// RegisterHandlerConfig configures a topic handler subscription.
type RegisterHandlerConfig struct {
	AckDeadline time.Duration
	// MaxOutstanding caps the messages handled concurrently. Zero means the
	// implementation default.
	MaxOutstanding int
}

// Option applies a handler registration configuration.
type Option func(*RegisterHandlerConfig) error

// WithACKDeadline configures the deadline for the message broker subscription.
func WithACKDeadline(deadline time.Duration) Option {
	return func(c *RegisterHandlerConfig) error {
		if deadline <= 0 {
			return errors.New("ack deadline must be positive")
		}
		c.AckDeadline = deadline
		return nil
	}
}

// WithMaxOutstanding configures how many messages are handled at once. Use 1 for
// in-order handling.
func WithMaxOutstanding(n int) Option {
	return func(c *RegisterHandlerConfig) error {
		if n < 0 {
			return errors.New("max outstanding can't be negative")
		}
		c.MaxOutstanding = n
		return nil
	}
}

// ApplyRegisterHandlerOptions applies opts over the default config.
func ApplyRegisterHandlerOptions(opts ...Option) (RegisterHandlerConfig, error) {
	config := DefaultRegisterHandlerConfig
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return RegisterHandlerConfig{}, err
		}
	}

	return config, nil
}
