/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metacache

import (
	"fmt"

	"github.com/7ergbb/incubator-iotdb/config"
)

const cfgDefaultKeyPrefix = "metadataCache"

const (
	cfgKeyEnabled   = "enabled"
	cfgKeyMaxMemory = "maxMemory"
)

// DefaultMaxMemoryBytes is the default memory budget of the cache.
const DefaultMaxMemoryBytes = 32 * 1024 * 1024

// Config represents a set of configuration parameters for the metadata cache.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Enabled determines whether metadata is cached at all. When false, every
	// lookup goes directly to the backing file reader.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// MaxMemory is the memory budget for resident entries, accounted
	// approximately by the size estimator.
	MaxMemory config.BytesCount `mapstructure:"maxMemory" yaml:"maxMemory" json:"maxMemory"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	var opts = configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix: opts.keyPrefix,
		Enabled:   true,
		MaxMemory: DefaultMaxMemoryBytes,
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the cache in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, true)
	dp.SetDefault(cfgKeyMaxMemory, DefaultMaxMemoryBytes)
}

// Set sets cache configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}
	if c.MaxMemory, err = dp.GetBytesCount(cfgKeyMaxMemory); err != nil {
		return err
	}
	if c.Enabled && c.MaxMemory == 0 {
		return dp.WrapKeyErr(cfgKeyMaxMemory, fmt.Errorf("must be greater than 0 when cache is enabled"))
	}
	return nil
}
