/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ViperAdapter is the DataProvider backed by viper.
type ViperAdapter struct {
	viper *viper.Viper
}

var _ DataProvider = (*ViperAdapter)(nil)

// NewViperAdapter creates a new ViperAdapter.
func NewViperAdapter() *ViperAdapter {
	return &ViperAdapter{viper.New()}
}

// UseEnvVars enables the ability to use environment variables for configuration parameters.
// With prefix "keyprobe", the key "retry.maxRetries" is looked up as KEYPROBE_RETRY_MAXRETRIES.
func (va *ViperAdapter) UseEnvVars(prefix string) {
	va.viper.AutomaticEnv()
	va.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	va.viper.SetEnvPrefix(prefix)
}

// BindFlag binds a command-line flag to the configuration key.
// The flag value wins over files and env only when it was set explicitly.
func (va *ViperAdapter) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("flag for key %q is nil", key)
	}
	return va.viper.BindPFlag(key, flag)
}

// Set overrides the value of the key regardless of files, env vars and flags.
func (va *ViperAdapter) Set(key string, value interface{}) {
	va.viper.Set(key, value)
}

// SetDefault sets the value used when neither files, env vars nor flags provide one.
func (va *ViperAdapter) SetDefault(key string, value interface{}) {
	va.viper.SetDefault(key, value)
}

func (va *ViperAdapter) IsSet(key string) bool {
	return va.viper.IsSet(key)
}

func (va *ViperAdapter) Get(key string) interface{} {
	return va.viper.Get(key)
}

// SetFromFile reads the file, its values take precedence over defaults only.
func (va *ViperAdapter) SetFromFile(path string, dataType DataType) error {
	va.viper.SetConfigType(string(dataType))
	va.viper.SetConfigFile(path)
	return va.viper.ReadInConfig()
}

// SetFromReader reads configuration data from the reader like SetFromFile does.
func (va *ViperAdapter) SetFromReader(reader io.Reader, dataType DataType) error {
	va.viper.SetConfigType(string(dataType))
	return va.viper.ReadConfig(reader)
}

// castKey converts the value of the key with the cast function, an absent key gives the zero value.
func castKey[T any](va *ViperAdapter, key string, castFn func(interface{}) (T, error)) (T, error) {
	var zero T
	val := va.viper.Get(key)
	if val == nil {
		return zero, nil
	}
	res, err := castFn(val)
	if err != nil {
		return zero, WrapKeyErr(key, err)
	}
	return res, nil
}

func (va *ViperAdapter) GetBool(key string) (bool, error) {
	return castKey(va, key, cast.ToBoolE)
}

func (va *ViperAdapter) GetInt(key string) (int, error) {
	return castKey(va, key, cast.ToIntE)
}

// GetIntSlice accepts lists as well as comma or space separated strings, which is how env vars carry them.
func (va *ViperAdapter) GetIntSlice(key string) ([]int, error) {
	return castKey(va, key, func(val interface{}) ([]int, error) {
		if s, ok := val.(string); ok {
			val = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
		}
		return cast.ToIntSliceE(val)
	})
}

func (va *ViperAdapter) GetFloat64(key string) (float64, error) {
	return castKey(va, key, cast.ToFloat64E)
}

func (va *ViperAdapter) GetString(key string) (string, error) {
	return castKey(va, key, cast.ToStringE)
}

// GetStringFromSet returns the element of set equal to the value, so the result is always spelled as in set.
func (va *ViperAdapter) GetStringFromSet(key string, set []string, ignoreCase bool) (string, error) {
	str, err := va.GetString(key)
	if err != nil {
		return "", err
	}
	for _, s := range set {
		if str == s || (ignoreCase && strings.EqualFold(str, s)) {
			return s, nil
		}
	}
	return "", WrapKeyErr(key, fmt.Errorf("unknown value %q, should be one of %v", str, set))
}

func (va *ViperAdapter) GetStringSlice(key string) ([]string, error) {
	return castKey(va, key, cast.ToStringSliceE)
}

// GetDuration accepts "1m30s"-like strings and integers (nanoseconds).
func (va *ViperAdapter) GetDuration(key string) (time.Duration, error) {
	return castKey(va, key, cast.ToDurationE)
}

// GetSizeInBytes tries to retrieve the value associated with the key as a size in bytes ("250M", "1G", 1024).
func (va *ViperAdapter) GetSizeInBytes(key string) (uint64, error) {
	switch v := va.Get(key).(type) {
	case nil:
		return 0, nil
	case string:
		if v == "" {
			return 0, nil
		}
		res, err := bytefmt.ToBytes(v)
		return res, WrapKeyErrIfNeeded(key, err)
	default:
		num, err := cast.ToInt64E(v)
		if err != nil {
			return 0, WrapKeyErr(key, err)
		}
		if num < 0 {
			return 0, WrapKeyErr(key, fmt.Errorf("negative value is not allowed: %d", num))
		}
		return uint64(num), nil
	}
}

// UnmarshalKey decodes the subtree of the key into rawVal with mapstructure.
func (va *ViperAdapter) UnmarshalKey(key string, rawVal interface{}, opts ...DecoderConfigOption) error {
	options := make([]viper.DecoderConfigOption, len(opts))
	for i, opt := range opts {
		options[i] = viper.DecoderConfigOption(opt)
	}
	return WrapKeyErrIfNeeded(key, va.viper.UnmarshalKey(key, rawVal, options...))
}

func (va *ViperAdapter) WrapKeyErr(key string, err error) error {
	return WrapKeyErr(key, err)
}
