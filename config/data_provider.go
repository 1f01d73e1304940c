/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DataType is the format of configuration data read from files and readers.
type DataType string

// Data formats understood by DataProvider.
const (
	DataTypeYAML DataType = "yaml"
	DataTypeJSON DataType = "json"
)

// DataProvider gives Config implementations typed access to configuration values by key.
// Keys are dot-separated paths ("retry.maxRetries"); getters return the zero value for absent keys
// and errors naming the key for values of a wrong type.
type DataProvider interface {
	// Sources.
	UseEnvVars(prefix string)
	SetFromFile(path string, dataType DataType) error
	SetFromReader(reader io.Reader, dataType DataType) error

	// Values.
	Set(key string, value interface{})
	SetDefault(key string, value interface{})
	IsSet(key string) bool
	Get(key string) interface{}

	// Typed getters.
	GetBool(key string) (bool, error)
	GetInt(key string) (int, error)
	GetIntSlice(key string) ([]int, error)
	GetFloat64(key string) (float64, error)
	GetString(key string) (string, error)
	GetStringFromSet(key string, set []string, ignoreCase bool) (string, error)
	GetStringSlice(key string) ([]string, error)
	GetDuration(key string) (time.Duration, error)
	GetSizeInBytes(key string) (uint64, error)
	UnmarshalKey(key string, rawVal interface{}, opts ...DecoderConfigOption) error

	// WrapKeyErr makes validation errors of Config.Set look like the ones of the getters.
	WrapKeyErr(key string, err error) error
}

// DecoderConfigOption tunes the mapstructure decoder used by UnmarshalKey.
type DecoderConfigOption func(*mapstructure.DecoderConfig)

// WithDurationHook makes the decoder accept "1s"-like strings for time.Duration fields.
func WithDurationHook() DecoderConfigOption {
	return func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// WithDecodeHook replaces the decode hook used by UnmarshalKey.
func WithDecodeHook(hook mapstructure.DecodeHookFunc) DecoderConfigOption {
	return func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = hook
	}
}

// WrapKeyErrIfNeeded is WrapKeyErr passing nil errors through.
func WrapKeyErrIfNeeded(key string, err error) error {
	if err == nil {
		return nil
	}
	return WrapKeyErr(key, err)
}

// WrapKeyErr prefixes the error with the key, e.g. "retry.maxRetries: should be >= 0".
func WrapKeyErr(key string, err error) error {
	return fmt.Errorf("%s: %w", key, err)
}
