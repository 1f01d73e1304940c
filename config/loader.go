/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
)

// Loader fills configuration objects from a DataProvider.
// Defaults of all objects are registered before any object reads its values,
// so one object may depend on a default declared by another one.
type Loader struct {
	DataProvider DataProvider
}

// NewDefaultLoader creates a Loader over viper with environment variables enabled.
// Variables are named after the keys, e.g. KEYPROBE_RETRY_MAXRETRIES for "retry.maxRetries" and prefix "keyprobe".
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return NewLoader(va)
}

// NewLoader creates a Loader over the data provider.
func NewLoader(dp DataProvider) *Loader {
	return &Loader{DataProvider: dp}
}

// LoadFromFile reads the file in the given format and loads the configuration objects.
func (l *Loader) LoadFromFile(path string, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return fmt.Errorf("read %s file %s: %w", dataType, path, err)
	}
	return l.Load(cfg, cfgs...)
}

// LoadFromReader reads the data in the given format and loads the configuration objects.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return fmt.Errorf("read %s data: %w", dataType, err)
	}
	return l.Load(cfg, cfgs...)
}

// Load fills the configuration objects from what the data provider already holds
// (env vars, bound flags, previously read data). The first error stops loading.
func (l *Loader) Load(cfg Config, cfgs ...Config) error {
	providers := make([]DataProvider, 0, len(cfgs)+1)
	for _, c := range append([]Config{cfg}, cfgs...) {
		dp := DataProviderFor(l.DataProvider, c)
		c.SetProviderDefaults(dp)
		providers = append(providers, dp)
	}
	if err := cfg.Set(providers[0]); err != nil {
		return err
	}
	for i, c := range cfgs {
		if err := c.Set(providers[i+1]); err != nil {
			return err
		}
	}
	return nil
}
