/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"net"
	"time"

	"github.com/acronis/go-keyprobe/config"
	"github.com/acronis/go-keyprobe/internal/ratelimit"
)

const cfgDefaultKeyPrefix = "connection"

const (
	cfgKeyMaxConnectionsPerHost   = "maxConnectionsPerHost"
	cfgKeyKeepAliveTimeout        = "keepAliveTimeout"
	cfgKeyMergingWindow           = "mergingWindow"
	cfgKeyAcquireTimeout          = "acquireTimeout"
	cfgKeyMaxRequestsPerConn      = "maxRequestsPerConn"
	cfgKeyMaxConnAge              = "maxConnAge"
	cfgKeyTimeout                 = "timeout"
	cfgKeyMergeIgnoredQueryParams = "mergeIgnoredQueryParams"
	cfgKeyUserAgent               = "userAgent"
	cfgKeyDNSServers              = "dnsServers"
	cfgKeyRateLimits              = "rateLimits"
	cfgKeyLoggerMode              = "logger.mode"
	cfgKeyLoggerSlowRequest       = "logger.slowRequestThreshold"
	cfgKeyMetricsEnabled          = "metrics.enabled"
)

// Default values.
const (
	DefaultMaxConnectionsPerHost = 10
	DefaultKeepAliveTimeout      = 30 * time.Second
	DefaultMergingWindow         = 50 * time.Millisecond
	DefaultAcquireTimeout        = 10 * time.Second
	DefaultMaxRequestsPerConn    = 100
	DefaultMaxConnAge            = 5 * time.Minute
	DefaultTimeout               = 30 * time.Second
	DefaultUserAgent             = "keyprobe/1.0"
	DefaultLoggingMode           = LoggingModeFailed
)

// RateLimitRule limits outbound calls to the matching hosts.
type RateLimitRule = ratelimit.HostRule

// LoggerConfig represents configuration options for outbound request logs.
type LoggerConfig struct {
	// Mode of logging: none, all, failed.
	Mode LoggingMode `mapstructure:"mode" yaml:"mode" json:"mode"`

	// SlowRequestThreshold suppresses logs of requests faster than the threshold.
	SlowRequestThreshold time.Duration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`
}

// MetricsConfig represents configuration options for outbound request metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Config represents options of the connection/request layer.
type Config struct {
	MaxConnectionsPerHost int           `mapstructure:"maxConnectionsPerHost" yaml:"maxConnectionsPerHost" json:"maxConnectionsPerHost"`
	KeepAliveTimeout      time.Duration `mapstructure:"keepAliveTimeout" yaml:"keepAliveTimeout" json:"keepAliveTimeout"`

	// MergingWindow is how long identical idempotent requests are collected before one real call is made.
	// Zero disables merging.
	MergingWindow      time.Duration `mapstructure:"mergingWindow" yaml:"mergingWindow" json:"mergingWindow"`
	AcquireTimeout     time.Duration `mapstructure:"acquireTimeout" yaml:"acquireTimeout" json:"acquireTimeout"`
	MaxRequestsPerConn int           `mapstructure:"maxRequestsPerConn" yaml:"maxRequestsPerConn" json:"maxRequestsPerConn"`
	MaxConnAge         time.Duration `mapstructure:"maxConnAge" yaml:"maxConnAge" json:"maxConnAge"`

	// Timeout bounds a whole request including the merging window and the connection wait.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// MergeIgnoredQueryParams are dropped from the merge key (cache busters, tracing ids).
	MergeIgnoredQueryParams []string `mapstructure:"mergeIgnoredQueryParams" yaml:"mergeIgnoredQueryParams" json:"mergeIgnoredQueryParams"`

	UserAgent string `mapstructure:"userAgent" yaml:"userAgent" json:"userAgent"`

	// DNSServers ("host:port") replace the system resolvers for new connections. They are fixed at creation.
	DNSServers []string `mapstructure:"dnsServers" yaml:"dnsServers" json:"dnsServers"`

	RateLimits []RateLimitRule `mapstructure:"rateLimits" yaml:"rateLimits" json:"rateLimits"`
	Logger     LoggerConfig    `mapstructure:"logger" yaml:"logger" json:"logger"`
	Metrics    MetricsConfig   `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix(cfgDefaultKeyPrefix)
}

// NewConfigWithKeyPrefix creates a new instance of the Config.
// Allows specifying key prefix which will be used for parsing configuration parameters.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix:             cfgDefaultKeyPrefix,
		MaxConnectionsPerHost: DefaultMaxConnectionsPerHost,
		KeepAliveTimeout:      DefaultKeepAliveTimeout,
		MergingWindow:         DefaultMergingWindow,
		AcquireTimeout:        DefaultAcquireTimeout,
		MaxRequestsPerConn:    DefaultMaxRequestsPerConn,
		MaxConnAge:            DefaultMaxConnAge,
		Timeout:               DefaultTimeout,
		UserAgent:             DefaultUserAgent,
		Logger:                LoggerConfig{Mode: DefaultLoggingMode},
		Metrics:               MetricsConfig{Enabled: true},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxConnectionsPerHost, DefaultMaxConnectionsPerHost)
	dp.SetDefault(cfgKeyKeepAliveTimeout, DefaultKeepAliveTimeout.String())
	dp.SetDefault(cfgKeyMergingWindow, DefaultMergingWindow.String())
	dp.SetDefault(cfgKeyAcquireTimeout, DefaultAcquireTimeout.String())
	dp.SetDefault(cfgKeyMaxRequestsPerConn, DefaultMaxRequestsPerConn)
	dp.SetDefault(cfgKeyMaxConnAge, DefaultMaxConnAge.String())
	dp.SetDefault(cfgKeyTimeout, DefaultTimeout.String())
	dp.SetDefault(cfgKeyUserAgent, DefaultUserAgent)
	dp.SetDefault(cfgKeyLoggerMode, string(DefaultLoggingMode))
	dp.SetDefault(cfgKeyLoggerSlowRequest, "0s")
	dp.SetDefault(cfgKeyMetricsEnabled, true)
}

// Set sets connection configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.MaxConnectionsPerHost, err = dp.GetInt(cfgKeyMaxConnectionsPerHost); err != nil {
		return err
	}
	if c.KeepAliveTimeout, err = dp.GetDuration(cfgKeyKeepAliveTimeout); err != nil {
		return err
	}
	if c.MergingWindow, err = dp.GetDuration(cfgKeyMergingWindow); err != nil {
		return err
	}
	if c.AcquireTimeout, err = dp.GetDuration(cfgKeyAcquireTimeout); err != nil {
		return err
	}
	if c.MaxRequestsPerConn, err = dp.GetInt(cfgKeyMaxRequestsPerConn); err != nil {
		return err
	}
	if c.MaxConnAge, err = dp.GetDuration(cfgKeyMaxConnAge); err != nil {
		return err
	}
	if c.Timeout, err = dp.GetDuration(cfgKeyTimeout); err != nil {
		return err
	}
	if c.MergeIgnoredQueryParams, err = dp.GetStringSlice(cfgKeyMergeIgnoredQueryParams); err != nil {
		return err
	}
	if c.UserAgent, err = dp.GetString(cfgKeyUserAgent); err != nil {
		return err
	}
	if c.DNSServers, err = dp.GetStringSlice(cfgKeyDNSServers); err != nil {
		return err
	}

	var mode string
	if mode, err = dp.GetStringFromSet(cfgKeyLoggerMode,
		[]string{string(LoggingModeNone), string(LoggingModeAll), string(LoggingModeFailed)}, true); err != nil {
		return err
	}
	c.Logger.Mode = LoggingMode(mode)
	if c.Logger.SlowRequestThreshold, err = dp.GetDuration(cfgKeyLoggerSlowRequest); err != nil {
		return err
	}
	if c.Metrics.Enabled, err = dp.GetBool(cfgKeyMetricsEnabled); err != nil {
		return err
	}

	c.RateLimits = nil
	if dp.IsSet(cfgKeyRateLimits) {
		if err = dp.UnmarshalKey(cfgKeyRateLimits, &c.RateLimits, config.WithDecodeHook(ratelimit.DecodeHook())); err != nil {
			return err
		}
	}

	if err = c.Validate(); err != nil {
		return dp.WrapKeyErr("", err)
	}
	return nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.MaxConnectionsPerHost < 1 {
		return fmt.Errorf("%s should be >= 1", cfgKeyMaxConnectionsPerHost)
	}
	if c.KeepAliveTimeout <= 0 {
		return fmt.Errorf("%s should be positive", cfgKeyKeepAliveTimeout)
	}
	if c.MergingWindow < 0 {
		return fmt.Errorf("%s should be >= 0", cfgKeyMergingWindow)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("%s should be positive", cfgKeyAcquireTimeout)
	}
	if c.MaxRequestsPerConn < 1 {
		return fmt.Errorf("%s should be >= 1", cfgKeyMaxRequestsPerConn)
	}
	if c.MaxConnAge <= 0 {
		return fmt.Errorf("%s should be positive", cfgKeyMaxConnAge)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%s should be >= 0", cfgKeyTimeout)
	}
	if !c.Logger.Mode.IsValid() {
		return fmt.Errorf("%s should be one of [none all failed]", cfgKeyLoggerMode)
	}
	for i, addr := range c.DNSServers {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s[%d]: %w", cfgKeyDNSServers, i, err)
		}
	}
	for i, rule := range c.RateLimits {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", cfgKeyRateLimits, i, err)
		}
	}
	return nil
}
