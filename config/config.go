/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads engine configuration from YAML/JSON files, environment variables and command-line flags.
// Every configurable component exposes a type implementing Config, so defaults and validation stay next to the
// component that consumes the values.
package config

// Config is a common interface for configuration objects that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}

// DataProviderFor returns dp wrapped with the key prefix of cfg, if cfg has one.
func DataProviderFor(dp DataProvider, cfg Config) DataProvider {
	if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
		return NewKeyPrefixedDataProvider(dp, kp.KeyPrefix())
	}
	return dp
}
