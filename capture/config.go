package capture

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("capture: invalid configuration")

// Config is the capture configuration chosen by the assistant and applied
// by the assisted side.
type Config struct {
	// TickMillis is the interval between two captures.
	TickMillis int `yaml:"tick_ms" cbor:"tick_ms"`

	// Quantization is the number of grey levels captures are reduced to.
	Quantization Quantization `yaml:"quantization" cbor:"quantization"`
}

// DefaultConfig returns a capture every 200ms at full grey depth.
func DefaultConfig() Config {
	return Config{TickMillis: 200, Quantization: Gray256}
}

// Tick returns the capture interval.
func (c Config) Tick() time.Duration {
	return time.Duration(c.TickMillis) * time.Millisecond
}

// Validate checks the configuration before it is applied.
func (c Config) Validate() error {
	if c.TickMillis <= 0 {
		return fmt.Errorf("%w: tick must be a positive number of milliseconds, got %d", ErrInvalidConfig, c.TickMillis)
	}
	if !c.Quantization.Valid() {
		return fmt.Errorf("%w: unsupported quantization %d", ErrInvalidConfig, int(c.Quantization))
	}
	return nil
}
