/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"fmt"
	"time"

	"github.com/acronis/go-keyprobe/config"
)

const cfgDefaultKeyPrefix = "admission"

const (
	cfgKeyMinLimit                 = "minLimit"
	cfgKeyMaxLimit                 = "maxLimit"
	cfgKeyInitialLimit             = "initialLimit"
	cfgKeyMeasurementWindow        = "measurementWindow"
	cfgKeyWindowCapacity           = "windowCapacity"
	cfgKeyWindowMaxAge             = "windowMaxAge"
	cfgKeyAdjustmentInterval       = "adjustmentInterval"
	cfgKeyLatencyThreshold         = "latencyThreshold"
	cfgKeyRateLimitThreshold       = "rateLimitThreshold"
	cfgKeySuccessRateThreshold     = "successRateThreshold"
	cfgKeyHighSuccessRateThreshold = "highSuccessRateThreshold"
	cfgKeyMode                     = "mode"
)

// Mode defines how fast the limit grows when the provider is healthy.
type Mode string

// Scaling modes.
const (
	ModeConservative Mode = "conservative"
	ModeAggressive   Mode = "aggressive"
)

// Default values.
const (
	DefaultMinLimit                 = 1
	DefaultMaxLimit                 = 50
	DefaultInitialLimit             = 5
	DefaultMeasurementWindow        = 10
	DefaultWindowCapacity           = 100
	DefaultWindowMaxAge             = time.Minute
	DefaultAdjustmentInterval       = 5 * time.Second
	DefaultLatencyThreshold         = 2 * time.Second
	DefaultRateLimitThreshold       = 0.10
	DefaultSuccessRateThreshold     = 0.80
	DefaultHighSuccessRateThreshold = 0.95
	DefaultMode                     = ModeConservative
)

// Config represents a set of configuration parameters for the concurrency controller.
type Config struct {
	MinLimit     int `mapstructure:"minLimit" yaml:"minLimit" json:"minLimit"`
	MaxLimit     int `mapstructure:"maxLimit" yaml:"maxLimit" json:"maxLimit"`
	InitialLimit int `mapstructure:"initialLimit" yaml:"initialLimit" json:"initialLimit"`

	// MeasurementWindow is the minimal number of samples required to adjust the limit.
	MeasurementWindow int `mapstructure:"measurementWindow" yaml:"measurementWindow" json:"measurementWindow"`

	// WindowCapacity and WindowMaxAge bound the metrics window.
	WindowCapacity int           `mapstructure:"windowCapacity" yaml:"windowCapacity" json:"windowCapacity"`
	WindowMaxAge   time.Duration `mapstructure:"windowMaxAge" yaml:"windowMaxAge" json:"windowMaxAge"`

	AdjustmentInterval time.Duration `mapstructure:"adjustmentInterval" yaml:"adjustmentInterval" json:"adjustmentInterval"`
	LatencyThreshold   time.Duration `mapstructure:"latencyThreshold" yaml:"latencyThreshold" json:"latencyThreshold"`

	RateLimitThreshold       float64 `mapstructure:"rateLimitThreshold" yaml:"rateLimitThreshold" json:"rateLimitThreshold"`
	SuccessRateThreshold     float64 `mapstructure:"successRateThreshold" yaml:"successRateThreshold" json:"successRateThreshold"`
	HighSuccessRateThreshold float64 `mapstructure:"highSuccessRateThreshold" yaml:"highSuccessRateThreshold" json:"highSuccessRateThreshold"`

	Mode Mode `mapstructure:"mode" yaml:"mode" json:"mode"`

	keyPrefix string
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
		keyPrefix:                cfgDefaultKeyPrefix,
		MinLimit:                 DefaultMinLimit,
		MaxLimit:                 DefaultMaxLimit,
		InitialLimit:             DefaultInitialLimit,
		MeasurementWindow:        DefaultMeasurementWindow,
		WindowCapacity:           DefaultWindowCapacity,
		WindowMaxAge:             DefaultWindowMaxAge,
		AdjustmentInterval:       DefaultAdjustmentInterval,
		LatencyThreshold:         DefaultLatencyThreshold,
		RateLimitThreshold:       DefaultRateLimitThreshold,
		SuccessRateThreshold:     DefaultSuccessRateThreshold,
		HighSuccessRateThreshold: DefaultHighSuccessRateThreshold,
		Mode:                     DefaultMode,
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
	dp.SetDefault(cfgKeyMinLimit, DefaultMinLimit)
	dp.SetDefault(cfgKeyMaxLimit, DefaultMaxLimit)
	dp.SetDefault(cfgKeyInitialLimit, DefaultInitialLimit)
	dp.SetDefault(cfgKeyMeasurementWindow, DefaultMeasurementWindow)
	dp.SetDefault(cfgKeyWindowCapacity, DefaultWindowCapacity)
	dp.SetDefault(cfgKeyWindowMaxAge, DefaultWindowMaxAge.String())
	dp.SetDefault(cfgKeyAdjustmentInterval, DefaultAdjustmentInterval.String())
	dp.SetDefault(cfgKeyLatencyThreshold, DefaultLatencyThreshold.String())
	dp.SetDefault(cfgKeyRateLimitThreshold, DefaultRateLimitThreshold)
	dp.SetDefault(cfgKeySuccessRateThreshold, DefaultSuccessRateThreshold)
	dp.SetDefault(cfgKeyHighSuccessRateThreshold, DefaultHighSuccessRateThreshold)
	dp.SetDefault(cfgKeyMode, string(DefaultMode))
}

// Set sets admission configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.MinLimit, err = dp.GetInt(cfgKeyMinLimit); err != nil {
		return err
	}
	if c.MaxLimit, err = dp.GetInt(cfgKeyMaxLimit); err != nil {
		return err
	}
	if c.InitialLimit, err = dp.GetInt(cfgKeyInitialLimit); err != nil {
		return err
	}
	if c.MeasurementWindow, err = dp.GetInt(cfgKeyMeasurementWindow); err != nil {
		return err
	}
	if c.WindowCapacity, err = dp.GetInt(cfgKeyWindowCapacity); err != nil {
		return err
	}
	if c.WindowMaxAge, err = dp.GetDuration(cfgKeyWindowMaxAge); err != nil {
		return err
	}
	if c.AdjustmentInterval, err = dp.GetDuration(cfgKeyAdjustmentInterval); err != nil {
		return err
	}
	if c.LatencyThreshold, err = dp.GetDuration(cfgKeyLatencyThreshold); err != nil {
		return err
	}
	if c.RateLimitThreshold, err = dp.GetFloat64(cfgKeyRateLimitThreshold); err != nil {
		return err
	}
	if c.SuccessRateThreshold, err = dp.GetFloat64(cfgKeySuccessRateThreshold); err != nil {
		return err
	}
	if c.HighSuccessRateThreshold, err = dp.GetFloat64(cfgKeyHighSuccessRateThreshold); err != nil {
		return err
	}
	var mode string
	if mode, err = dp.GetStringFromSet(cfgKeyMode, []string{string(ModeConservative), string(ModeAggressive)}, true); err != nil {
		return err
	}
	c.Mode = Mode(mode)

	if err = c.Validate(); err != nil {
		return dp.WrapKeyErr("", err)
	}
	return nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.MinLimit < 1 {
		return fmt.Errorf("%s should be >= 1", cfgKeyMinLimit)
	}
	if c.MaxLimit < c.MinLimit {
		return fmt.Errorf("%s should be >= %s", cfgKeyMaxLimit, cfgKeyMinLimit)
	}
	if c.InitialLimit < c.MinLimit || c.InitialLimit > c.MaxLimit {
		return fmt.Errorf("%s should be in [%s, %s]", cfgKeyInitialLimit, cfgKeyMinLimit, cfgKeyMaxLimit)
	}
	if c.MeasurementWindow < 1 {
		return fmt.Errorf("%s should be >= 1", cfgKeyMeasurementWindow)
	}
	if c.WindowCapacity < c.MeasurementWindow {
		return fmt.Errorf("%s should be >= %s", cfgKeyWindowCapacity, cfgKeyMeasurementWindow)
	}
	if c.WindowMaxAge <= 0 {
		return fmt.Errorf("%s should be positive", cfgKeyWindowMaxAge)
	}
	if c.AdjustmentInterval <= 0 {
		return fmt.Errorf("%s should be positive", cfgKeyAdjustmentInterval)
	}
	if c.LatencyThreshold <= 0 {
		return fmt.Errorf("%s should be positive", cfgKeyLatencyThreshold)
	}
	for _, r := range []struct {
		key string
		val float64
	}{
		{cfgKeyRateLimitThreshold, c.RateLimitThreshold},
		{cfgKeySuccessRateThreshold, c.SuccessRateThreshold},
		{cfgKeyHighSuccessRateThreshold, c.HighSuccessRateThreshold},
	} {
		if r.val < 0 || r.val > 1 {
			return fmt.Errorf("%s should be in [0, 1]", r.key)
		}
	}
	if c.HighSuccessRateThreshold < c.SuccessRateThreshold {
		return fmt.Errorf("%s should be >= %s", cfgKeyHighSuccessRateThreshold, cfgKeySuccessRateThreshold)
	}
	if c.Mode != ModeConservative && c.Mode != ModeAggressive {
		return fmt.Errorf("%s: unknown value %q", cfgKeyMode, c.Mode)
	}
	return nil
}

func (m Mode) scale() float64 {
	if m == ModeAggressive {
		return 1.5
	}
	return 1.2
}
