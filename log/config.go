/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"errors"
	"fmt"

	"code.cloudfoundry.org/bytefmt"

	"github.com/acronis/go-keyprobe/config"
)

const cfgDefaultKeyPrefix = "log"

const (
	cfgKeyLevel                  = "level"
	cfgKeyFormat                 = "format"
	cfgKeyOutput                 = "output"
	cfgKeyNoColor                = "nocolor"
	cfgKeyAddCaller              = "addCaller"
	cfgKeyFilePath               = "file.path"
	cfgKeyFileRotationCompress   = "file.rotation.compress"
	cfgKeyFileRotationMaxSize    = "file.rotation.maxSize"
	cfgKeyFileRotationMaxBackups = "file.rotation.maxBackups"
	cfgKeyFileRotationMaxAgeDays = "file.rotation.maxAgeDays"
	cfgKeyErrorVerboseSuffix     = "error.verboseSuffix"
	cfgKeyMaskingEnabled         = "masking.enabled"
	cfgKeyMaskingUseDefaultRules = "masking.useDefaultRules"
	cfgKeyMaskingSecretPrefixes  = "masking.secretPrefixes"
	cfgKeyMaskingRules           = "masking.rules"
)

// Defaults and lower bounds of the file rotation.
const (
	DefaultFileRotationMaxSizeBytes = 1024 * 1024 * 100
	MinFileRotationMaxSizeBytes     = 1024 * 1024

	DefaultFileRotationMaxBackups = 5
	MinFileRotationMaxBackups     = 1

	defaultErrorVerboseSuffix = "_verbose"
)

// Level is the minimal severity of logged entries.
type Level string

// Logging levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// Format is the encoding of log entries.
type Format string

// Logging formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Output is where log entries are written.
type Output string

// Logging outputs.
const (
	OutputStdout Output = "stdout"
	OutputStderr Output = "stderr"
	OutputFile   Output = "file"
)

// FieldMaskFormat is a representation in which a masked field may appear in a message.
type FieldMaskFormat string

// Field mask formats.
const (
	FieldMaskFormatHTTPHeader FieldMaskFormat = "http_header"
	FieldMaskFormatJSON       FieldMaskFormat = "json"
	FieldMaskFormatURLEncoded FieldMaskFormat = "urlencoded"
)

// Config is the "log" configuration section.
type Config struct {
	Level     Level            `mapstructure:"level" yaml:"level" json:"level"`
	Format    Format           `mapstructure:"format" yaml:"format" json:"format"`
	Output    Output           `mapstructure:"output" yaml:"output" json:"output"`
	NoColor   bool             `mapstructure:"nocolor" yaml:"nocolor" json:"nocolor"`
	AddCaller bool             `mapstructure:"addCaller" yaml:"addCaller" json:"addCaller"`
	File      FileOutputConfig `mapstructure:"file" yaml:"file" json:"file"`

	// ErrorVerboseSuffix is appended to the "error" key for the verbose (%+v) error field.
	ErrorVerboseSuffix string `mapstructure:"errorVerboseSuffix" yaml:"errorVerboseSuffix" json:"errorVerboseSuffix"`

	Masking MaskingConfig `mapstructure:"masking" yaml:"masking" json:"masking"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// FileOutputConfig is used with the "file" output, the file is rotated by lumberjack.
type FileOutputConfig struct {
	Path     string             `mapstructure:"path" yaml:"path" json:"path"`
	Rotation FileRotationConfig `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
}

// FileRotationConfig limits the size and the number of rotated log files.
type FileRotationConfig struct {
	Compress   bool   `mapstructure:"compress" yaml:"compress" json:"compress"`
	MaxSize    uint64 `mapstructure:"maxSize" yaml:"maxSize" json:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays" yaml:"maxAgeDays" json:"maxAgeDays"`
}

// MaskingConfig controls masking of credentials in messages and string fields.
type MaskingConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	UseDefaultRules bool `mapstructure:"useDefaultRules" yaml:"useDefaultRules" json:"useDefaultRules"`

	// SecretPrefixes are well-known API key prefixes ("sk-", "AIza").
	// Any token starting with one of them is masked wherever it appears.
	SecretPrefixes []string            `mapstructure:"secretPrefixes" yaml:"secretPrefixes" json:"secretPrefixes"`
	Rules          []MaskingRuleConfig `mapstructure:"rules" yaml:"rules" json:"rules"`
}

// MaskingRuleConfig masks the value of a named field in the given formats.
type MaskingRuleConfig struct {
	Field   string            `mapstructure:"field" yaml:"field" json:"field"`
	Formats []FieldMaskFormat `mapstructure:"formats" yaml:"formats" json:"formats"`
}

// NewConfig creates an empty Config to be filled by config.Loader.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a Config with the values used when nothing is configured.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Level:     LevelInfo,
		Format:    FormatJSON,
		Output:    OutputStderr,
		File: FileOutputConfig{
			Rotation: FileRotationConfig{
				MaxSize:    DefaultFileRotationMaxSizeBytes,
				MaxBackups: DefaultFileRotationMaxBackups,
			},
		},
		ErrorVerboseSuffix: defaultErrorVerboseSuffix,
		Masking: MaskingConfig{
			Enabled:         true,
			UseDefaultRules: true,
			SecretPrefixes:  DefaultSecretPrefixes,
		},
	}
}

// KeyPrefix returns the key under which the logging section is looked up ("log" by default).
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults registers the values of NewDefaultConfig in the data provider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	def := NewDefaultConfig()
	for key, val := range map[string]interface{}{
		cfgKeyLevel:                  string(def.Level),
		cfgKeyFormat:                 string(def.Format),
		cfgKeyOutput:                 string(def.Output),
		cfgKeyErrorVerboseSuffix:     def.ErrorVerboseSuffix,
		cfgKeyFileRotationMaxSize:    bytefmt.ByteSize(def.File.Rotation.MaxSize),
		cfgKeyFileRotationMaxBackups: def.File.Rotation.MaxBackups,
		cfgKeyMaskingEnabled:         def.Masking.Enabled,
		cfgKeyMaskingUseDefaultRules: def.Masking.UseDefaultRules,
		cfgKeyMaskingSecretPrefixes:  def.Masking.SecretPrefixes,
	} {
		dp.SetDefault(key, val)
	}
}

// getEnum reads a case-insensitive value that must be one of values.
func getEnum[T ~string](dp config.DataProvider, key string, values ...T) (T, error) {
	set := make([]string, len(values))
	for i := range values {
		set[i] = string(values[i])
	}
	s, err := dp.GetStringFromSet(key, set, true)
	return T(s), err
}

// Set reads and validates the logging section.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.Level, err = getEnum(dp, cfgKeyLevel, LevelError, LevelWarn, LevelInfo, LevelDebug); err != nil {
		return err
	}
	if c.Format, err = getEnum(dp, cfgKeyFormat, FormatJSON, FormatText); err != nil {
		return err
	}
	if c.Output, err = getEnum(dp, cfgKeyOutput, OutputStdout, OutputStderr, OutputFile); err != nil {
		return err
	}
	if c.NoColor, err = dp.GetBool(cfgKeyNoColor); err != nil {
		return err
	}
	if c.AddCaller, err = dp.GetBool(cfgKeyAddCaller); err != nil {
		return err
	}
	if c.ErrorVerboseSuffix, err = dp.GetString(cfgKeyErrorVerboseSuffix); err != nil {
		return err
	}
	if err = c.File.set(dp, c.Output == OutputFile); err != nil {
		return err
	}
	return c.Masking.set(dp)
}

func (fc *FileOutputConfig) set(dp config.DataProvider, required bool) (err error) {
	if fc.Path, err = dp.GetString(cfgKeyFilePath); err != nil {
		return err
	}
	if fc.Path == "" && required {
		return dp.WrapKeyErr(cfgKeyFilePath, fmt.Errorf("cannot be empty when %q output is used", OutputFile))
	}

	rot := &fc.Rotation
	if rot.Compress, err = dp.GetBool(cfgKeyFileRotationCompress); err != nil {
		return err
	}
	if rot.MaxSize, err = dp.GetSizeInBytes(cfgKeyFileRotationMaxSize); err != nil {
		return err
	}
	if rot.MaxSize < MinFileRotationMaxSizeBytes {
		return dp.WrapKeyErr(cfgKeyFileRotationMaxSize,
			fmt.Errorf("should be >= %s", bytefmt.ByteSize(MinFileRotationMaxSizeBytes)))
	}
	if rot.MaxBackups, err = dp.GetInt(cfgKeyFileRotationMaxBackups); err != nil {
		return err
	}
	if rot.MaxBackups < MinFileRotationMaxBackups {
		return dp.WrapKeyErr(cfgKeyFileRotationMaxBackups, fmt.Errorf("should be >= %d", MinFileRotationMaxBackups))
	}
	if rot.MaxAgeDays, err = dp.GetInt(cfgKeyFileRotationMaxAgeDays); err != nil {
		return err
	}
	if rot.MaxAgeDays < 0 {
		return dp.WrapKeyErr(cfgKeyFileRotationMaxAgeDays, errors.New("should be >= 0"))
	}
	return nil
}

func (mc *MaskingConfig) set(dp config.DataProvider) (err error) {
	if mc.Enabled, err = dp.GetBool(cfgKeyMaskingEnabled); err != nil {
		return err
	}
	if mc.UseDefaultRules, err = dp.GetBool(cfgKeyMaskingUseDefaultRules); err != nil {
		return err
	}
	if mc.SecretPrefixes, err = dp.GetStringSlice(cfgKeyMaskingSecretPrefixes); err != nil {
		return err
	}
	return dp.UnmarshalKey(cfgKeyMaskingRules, &mc.Rules)
}
