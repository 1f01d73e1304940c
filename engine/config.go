/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package engine

import (
	"fmt"
	"time"

	"github.com/acronis/go-keyprobe/admission"
	"github.com/acronis/go-keyprobe/config"
	"github.com/acronis/go-keyprobe/httpclient"
	"github.com/acronis/go-keyprobe/retry"
)

const cfgDefaultKeyPrefix = "dispatch"

const (
	cfgKeyMaintenanceInterval = "maintenanceInterval"
	cfgKeyBaseURLs            = "baseURLs"
)

// DefaultMaintenanceInterval is how often the connection layer is maintained during a run.
const DefaultMaintenanceInterval = time.Second

// DispatchConfig represents a set of configuration parameters of the dispatcher and the built-in providers.
type DispatchConfig struct {
	MaintenanceInterval time.Duration `mapstructure:"maintenanceInterval" yaml:"maintenanceInterval" json:"maintenanceInterval"`

	// BaseURLs overrides the API base URL of built-in providers, keyed by provider tag.
	BaseURLs map[string]string `mapstructure:"baseURLs" yaml:"baseURLs" json:"baseURLs"`

	keyPrefix string
}

var _ config.Config = (*DispatchConfig)(nil)
var _ config.KeyPrefixProvider = (*DispatchConfig)(nil)

// NewDispatchConfig creates a new instance of the DispatchConfig.
func NewDispatchConfig() *DispatchConfig {
	return &DispatchConfig{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultDispatchConfig creates a new instance of the DispatchConfig with default values.
func NewDefaultDispatchConfig() *DispatchConfig {
	return &DispatchConfig{keyPrefix: cfgDefaultKeyPrefix, MaintenanceInterval: DefaultMaintenanceInterval}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *DispatchConfig) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *DispatchConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaintenanceInterval, DefaultMaintenanceInterval.String())
}

// Set sets dispatch configuration values from config.DataProvider.
func (c *DispatchConfig) Set(dp config.DataProvider) (err error) {
	if c.MaintenanceInterval, err = dp.GetDuration(cfgKeyMaintenanceInterval); err != nil {
		return err
	}
	c.BaseURLs = nil
	if dp.IsSet(cfgKeyBaseURLs) {
		if err = dp.UnmarshalKey(cfgKeyBaseURLs, &c.BaseURLs); err != nil {
			return err
		}
	}
	if err = c.Validate(); err != nil {
		return dp.WrapKeyErr("", err)
	}
	return nil
}

// Validate checks that the configuration is consistent.
func (c *DispatchConfig) Validate() error {
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("%s should be positive", cfgKeyMaintenanceInterval)
	}
	return nil
}

// Config aggregates the configuration of all engine components.
type Config struct {
	Admission  *admission.Config
	Retry      *retry.Config
	Connection *httpclient.Config
	Dispatch   *DispatchConfig
}

// NewConfig creates a Config with empty component configs, ready to be loaded by config.Loader.
func NewConfig() *Config {
	return &Config{
		Admission:  admission.NewConfig(),
		Retry:      retry.NewConfig(),
		Connection: httpclient.NewConfig(),
		Dispatch:   NewDispatchConfig(),
	}
}

// NewDefaultConfig creates a Config with default values of all components.
func NewDefaultConfig() *Config {
	return &Config{
		Admission:  admission.NewDefaultConfig(),
		Retry:      retry.NewDefaultConfig(),
		Connection: httpclient.NewDefaultConfig(),
		Dispatch:   NewDefaultDispatchConfig(),
	}
}

// Configs returns the component configs, e.g. for config.Loader.Load.
func (c *Config) Configs() []config.Config {
	return []config.Config{c.Admission, c.Retry, c.Connection, c.Dispatch}
}

// Validate checks every component config.
func (c *Config) Validate() error {
	if err := c.Admission.Validate(); err != nil {
		return fmt.Errorf("%s: %w", c.Admission.KeyPrefix(), err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%s: %w", c.Retry.KeyPrefix(), err)
	}
	if err := c.Connection.Validate(); err != nil {
		return fmt.Errorf("%s: %w", c.Connection.KeyPrefix(), err)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("%s: %w", c.Dispatch.KeyPrefix(), err)
	}
	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	adm := *c.Admission

	rtr := *c.Retry
	rtr.FastFailCodes = append([]int(nil), c.Retry.FastFailCodes...)
	rtr.RetryableCodes = append([]int(nil), c.Retry.RetryableCodes...)

	conn := *c.Connection
	conn.MergeIgnoredQueryParams = append([]string(nil), c.Connection.MergeIgnoredQueryParams...)
	conn.DNSServers = append([]string(nil), c.Connection.DNSServers...)
	conn.RateLimits = append([]httpclient.RateLimitRule(nil), c.Connection.RateLimits...)

	disp := *c.Dispatch
	if c.Dispatch.BaseURLs != nil {
		disp.BaseURLs = make(map[string]string, len(c.Dispatch.BaseURLs))
		for k, v := range c.Dispatch.BaseURLs {
			disp.BaseURLs[k] = v
		}
	}
	return &Config{Admission: &adm, Retry: &rtr, Connection: &conn, Dispatch: &disp}
}
