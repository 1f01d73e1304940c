/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"fmt"
	"time"

	"github.com/acronis/go-keyprobe/config"
)

const cfgDefaultKeyPrefix = "retry"

const (
	cfgKeyMaxRetries              = "maxRetries"
	cfgKeyBaseDelay               = "baseDelay"
	cfgKeyMaxDelay                = "maxDelay"
	cfgKeyBackoffMultiplier       = "backoffMultiplier"
	cfgKeyJitterFactor            = "jitterFactor"
	cfgKeyFastFailCodes           = "fastFailCodes"
	cfgKeyRetryableCodes          = "retryableCodes"
	cfgKeyBreakerFailureThreshold = "breaker.failureThreshold"
	cfgKeyBreakerMinSamples       = "breaker.minSamples"
	cfgKeyBreakerWindow           = "breaker.window"
)

// Default values.
const (
	DefaultMaxRetries        = 3
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultJitterFactor      = 0.3

	DefaultBreakerFailureThreshold = 0.5
	DefaultBreakerMinSamples       = 10
	DefaultBreakerWindow           = time.Minute
)

// Default status code sets.
var (
	DefaultFastFailCodes  = []int{400, 401, 403, 404}
	DefaultRetryableCodes = []int{429, 500, 502, 503, 504}
)

// Config represents a set of configuration parameters for the retry supervisor.
type Config struct {
	MaxRetries        int           `mapstructure:"maxRetries" yaml:"maxRetries" json:"maxRetries"`
	BaseDelay         time.Duration `mapstructure:"baseDelay" yaml:"baseDelay" json:"baseDelay"`
	MaxDelay          time.Duration `mapstructure:"maxDelay" yaml:"maxDelay" json:"maxDelay"`
	BackoffMultiplier float64       `mapstructure:"backoffMultiplier" yaml:"backoffMultiplier" json:"backoffMultiplier"`
	JitterFactor      float64       `mapstructure:"jitterFactor" yaml:"jitterFactor" json:"jitterFactor"`
	FastFailCodes     []int         `mapstructure:"fastFailCodes" yaml:"fastFailCodes" json:"fastFailCodes"`
	RetryableCodes    []int         `mapstructure:"retryableCodes" yaml:"retryableCodes" json:"retryableCodes"`
	Breaker           BreakerConfig `mapstructure:"breaker" yaml:"breaker" json:"breaker"`

	keyPrefix string
}

// BreakerConfig configures per-provider circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the failure ratio above which the breaker opens.
	FailureThreshold float64       `mapstructure:"failureThreshold" yaml:"failureThreshold" json:"failureThreshold"`
	MinSamples       int           `mapstructure:"minSamples" yaml:"minSamples" json:"minSamples"`
	Window           time.Duration `mapstructure:"window" yaml:"window" json:"window"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix:         cfgDefaultKeyPrefix,
		MaxRetries:        DefaultMaxRetries,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		JitterFactor:      DefaultJitterFactor,
		FastFailCodes:     append([]int(nil), DefaultFastFailCodes...),
		RetryableCodes:    append([]int(nil), DefaultRetryableCodes...),
		Breaker: BreakerConfig{
			FailureThreshold: DefaultBreakerFailureThreshold,
			MinSamples:       DefaultBreakerMinSamples,
			Window:           DefaultBreakerWindow,
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxRetries, DefaultMaxRetries)
	dp.SetDefault(cfgKeyBaseDelay, DefaultBaseDelay.String())
	dp.SetDefault(cfgKeyMaxDelay, DefaultMaxDelay.String())
	dp.SetDefault(cfgKeyBackoffMultiplier, DefaultBackoffMultiplier)
	dp.SetDefault(cfgKeyJitterFactor, DefaultJitterFactor)
	dp.SetDefault(cfgKeyFastFailCodes, DefaultFastFailCodes)
	dp.SetDefault(cfgKeyRetryableCodes, DefaultRetryableCodes)
	dp.SetDefault(cfgKeyBreakerFailureThreshold, DefaultBreakerFailureThreshold)
	dp.SetDefault(cfgKeyBreakerMinSamples, DefaultBreakerMinSamples)
	dp.SetDefault(cfgKeyBreakerWindow, DefaultBreakerWindow.String())
}

// Set sets retry configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.MaxRetries, err = dp.GetInt(cfgKeyMaxRetries); err != nil {
		return err
	}
	if c.BaseDelay, err = dp.GetDuration(cfgKeyBaseDelay); err != nil {
		return err
	}
	if c.MaxDelay, err = dp.GetDuration(cfgKeyMaxDelay); err != nil {
		return err
	}
	if c.BackoffMultiplier, err = dp.GetFloat64(cfgKeyBackoffMultiplier); err != nil {
		return err
	}
	if c.JitterFactor, err = dp.GetFloat64(cfgKeyJitterFactor); err != nil {
		return err
	}
	if c.FastFailCodes, err = dp.GetIntSlice(cfgKeyFastFailCodes); err != nil {
		return err
	}
	if c.RetryableCodes, err = dp.GetIntSlice(cfgKeyRetryableCodes); err != nil {
		return err
	}
	if c.Breaker.FailureThreshold, err = dp.GetFloat64(cfgKeyBreakerFailureThreshold); err != nil {
		return err
	}
	if c.Breaker.MinSamples, err = dp.GetInt(cfgKeyBreakerMinSamples); err != nil {
		return err
	}
	if c.Breaker.Window, err = dp.GetDuration(cfgKeyBreakerWindow); err != nil {
		return err
	}
	if err = c.Validate(); err != nil {
		return dp.WrapKeyErr("", err)
	}
	return nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%s should be >= 0", cfgKeyMaxRetries)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("%s should be positive", cfgKeyBaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("%s should be >= %s", cfgKeyMaxDelay, cfgKeyBaseDelay)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%s should be >= 1", cfgKeyBackoffMultiplier)
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return fmt.Errorf("%s should be in [0, 1]", cfgKeyJitterFactor)
	}
	for _, code := range c.FastFailCodes {
		for _, rc := range c.RetryableCodes {
			if code == rc {
				return fmt.Errorf("status code %d is both fast-fail and retryable", code)
			}
		}
	}
	return c.Breaker.Validate()
}

// Validate checks that the breaker configuration is consistent.
func (c *BreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		return fmt.Errorf("%s should be in (0, 1]", cfgKeyBreakerFailureThreshold)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("%s should be >= 1", cfgKeyBreakerMinSamples)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%s should be positive", cfgKeyBreakerWindow)
	}
	return nil
}
