// Package config loads the YAML configuration shared by the screenpack
// binaries and saves back the settings changed at run time.
//
// A file only needs to name the values it changes; everything else keeps
// the value from Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/screenpack/screenpack/capture"
	"github.com/screenpack/screenpack/decompressor"
	"github.com/screenpack/screenpack/network"
	"github.com/screenpack/screenpack/squeeze"
)

// Config is the configuration of both sides of a session. The assistant
// uses Network, Capture, Compressor and Decompressor; the assisted side
// uses Address and Compressor.Eviction.
type Config struct {
	// Network configures the assistant's listener.
	Network network.Config `yaml:"network"`

	// Address is the assistant the assisted side dials.
	Address string `yaml:"address"`

	// Capture is the capture configuration the assistant sends to the
	// assisted side.
	Capture capture.Config `yaml:"capture"`

	// Compressor is the compressor configuration the assistant sends to
	// the assisted side.
	Compressor squeeze.Config `yaml:"compressor"`

	// Decompressor configures the assistant's decoding pool.
	Decompressor decompressor.Config `yaml:"decompressor"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Network:      network.DefaultConfig(),
		Address:      "localhost:8080",
		Capture:      capture.DefaultConfig(),
		Compressor:   squeeze.DefaultConfig(),
		Decompressor: decompressor.DefaultConfig(),
	}
}

// LoadFile reads the configuration at path over the defaults and
// validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section and reports all the errors found.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Network.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if err := c.Capture.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Compressor.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Decompressor.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// A Persister saves configuration changes. Persisting the configuration
// that was last persisted does nothing.
type Persister interface {
	Persist(cfg *Config) error
}

// FilePersister persists to a YAML file, replacing it atomically.
type FilePersister struct {
	Path string

	mu   sync.Mutex
	last []byte
}

// NewFilePersister returns a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

func (p *FilePersister) Persist(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && string(p.last) == string(data) {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.Path), "."+filepath.Base(p.Path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		return err
	}
	p.last = data
	return nil
}
