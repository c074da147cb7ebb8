package squeeze

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("squeeze: invalid configuration")

// Config is the compressor configuration chosen by the assistant and
// applied by the assisted side.
type Config struct {
	Method         Method `yaml:"method" cbor:"method"`
	CacheEnabled   bool   `yaml:"cache_enabled" cbor:"cache_enabled"`
	CacheMaxSize   int    `yaml:"cache_max_size" cbor:"cache_max_size"`
	CachePurgeSize int    `yaml:"cache_purge_size" cbor:"cache_purge_size"`

	// Eviction is a local tuning knob of the side that owns the cache;
	// it does not travel on the wire.
	Eviction Eviction `yaml:"eviction" cbor:"-"`
}

// DefaultConfig returns LZ77 with a 32 MiB cache purged down to 24 MiB.
func DefaultConfig() Config {
	return Config{
		Method:         MethodLZ77,
		CacheEnabled:   true,
		CacheMaxSize:   32 << 20,
		CachePurgeSize: 24 << 20,
		Eviction:       EvictFIFO,
	}
}

// Validate checks the configuration before it is applied. The cache
// bounds are checked even when the cache is disabled, so that enabling it
// later cannot produce an invalid combination.
func (c Config) Validate() error {
	if !c.Method.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, c.Method)
	}
	if c.CacheMaxSize <= 0 {
		return fmt.Errorf("%w: cache max size must be positive, got %d", ErrInvalidConfig, c.CacheMaxSize)
	}
	if c.CachePurgeSize <= 0 {
		return fmt.Errorf("%w: cache purge size must be positive, got %d", ErrInvalidConfig, c.CachePurgeSize)
	}
	if c.CachePurgeSize >= c.CacheMaxSize {
		return fmt.Errorf("%w: cache purge size %d must be smaller than max size %d",
			ErrInvalidConfig, c.CachePurgeSize, c.CacheMaxSize)
	}
	if c.Eviction > EvictLRU {
		return fmt.Errorf("%w: %v eviction", ErrInvalidConfig, c.Eviction)
	}
	return nil
}
