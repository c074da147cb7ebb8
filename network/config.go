package network

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("network: invalid configuration")

// Config configures the assistant's listening side.
type Config struct {
	// Port is the TCP port to listen on. 0 picks a free port.
	Port int `yaml:"port"`

	// SendQueueDepth is how many outgoing messages may wait for the
	// connection's sender before Send* calls fail.
	SendQueueDepth int `yaml:"send_queue_depth"`
}

// DefaultConfig listens on 8080 with a queue of 16 messages.
func DefaultConfig() Config {
	return Config{Port: 8080, SendQueueDepth: 16}
}

// Validate checks the configuration before it is applied.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.SendQueueDepth <= 0 {
		return fmt.Errorf("%w: send queue depth must be positive, got %d", ErrInvalidConfig, c.SendQueueDepth)
	}
	return nil
}
