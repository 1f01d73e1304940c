/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-keyprobe/config"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    func(cfg *Config)
		wantErr string
	}{
		{
			name: "defaults",
			data: `{}`,
			want: func(cfg *Config) {
				want := NewDefaultConfig()
				require.Equal(t, want.Level, cfg.Level)
				require.Equal(t, want.Format, cfg.Format)
				require.Equal(t, want.Output, cfg.Output)
				require.Equal(t, want.File.Rotation, cfg.File.Rotation)
				require.Equal(t, want.Masking.SecretPrefixes, cfg.Masking.SecretPrefixes)
				require.True(t, cfg.Masking.Enabled)
			},
		},
		{
			name: "file output with rotation",
			data: `{"log": {"level": "DEBUG", "format": "text", "output": "file",
				"file": {"path": "/var/log/keyprobe.log", "rotation": {"maxSize": "10M", "maxBackups": 2}}}}`,
			want: func(cfg *Config) {
				require.Equal(t, LevelDebug, cfg.Level)
				require.Equal(t, FormatText, cfg.Format)
				require.Equal(t, OutputFile, cfg.Output)
				require.Equal(t, "/var/log/keyprobe.log", cfg.File.Path)
				require.Equal(t, uint64(10*1024*1024), cfg.File.Rotation.MaxSize)
				require.Equal(t, 2, cfg.File.Rotation.MaxBackups)
			},
		},
		{
			name: "masking rules",
			data: `{"log": {"masking": {"secretPrefixes": ["xai-"],
				"rules": [{"field": "token", "formats": ["urlencoded"]}]}}}`,
			want: func(cfg *Config) {
				require.Equal(t, []string{"xai-"}, cfg.Masking.SecretPrefixes)
				require.Equal(t, []MaskingRuleConfig{
					{Field: "token", Formats: []FieldMaskFormat{FieldMaskFormatURLEncoded}},
				}, cfg.Masking.Rules)
			},
		},
		{
			name:    "unknown level",
			data:    `{"log": {"level": "trace"}}`,
			wantErr: `log.level: unknown value "trace", should be one of [error warn info debug]`,
		},
		{
			name:    "file output without path",
			data:    `{"log": {"output": "file"}}`,
			wantErr: `log.file.path: cannot be empty when "file" output is used`,
		},
		{
			name:    "too small rotation size",
			data:    `{"log": {"file": {"rotation": {"maxSize": "100K"}}}}`,
			wantErr: `log.file.rotation.maxSize: should be >= 1M`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
				bytes.NewBufferString(tt.data), config.DataTypeJSON, cfg)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.want(cfg)
		})
	}
}
