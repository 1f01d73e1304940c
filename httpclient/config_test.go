/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-keyprobe/config"
	"github.com/acronis/go-keyprobe/internal/ratelimit"
)

func TestConfigWithLoader(t *testing.T) {
	tests := []struct {
		name     string
		dataType config.DataType
		data     string
		want     func(t *testing.T, cfg *Config)
		wantErr  string
	}{
		{
			name:     "defaults",
			dataType: config.DataTypeJSON,
			data:     `{}`,
			want: func(t *testing.T, cfg *Config) {
				require.Equal(t, NewDefaultConfig(), cfg)
			},
		},
		{
			name:     "custom values",
			dataType: config.DataTypeYAML,
			data: `
connection:
  maxConnectionsPerHost: 4
  keepAliveTimeout: 10s
  mergingWindow: 0s
  mergeIgnoredQueryParams: [ts, trace]
  dnsServers: ["10.0.0.2:53", "[fd00::2]:53"]
  logger:
    mode: ALL
    slowRequestThreshold: 1s
  metrics:
    enabled: false
  rateLimits:
    - hosts: "api.openai.com, *.openai.azure.com"
      rate: 60/m
      burst: 5
      waitTimeout: 2s
    - hosts: [generativelanguage.googleapis.com]
      rate: 10/s
`,
			want: func(t *testing.T, cfg *Config) {
				require.Equal(t, 4, cfg.MaxConnectionsPerHost)
				require.Equal(t, 10*time.Second, cfg.KeepAliveTimeout)
				require.Equal(t, time.Duration(0), cfg.MergingWindow)
				require.Equal(t, []string{"ts", "trace"}, cfg.MergeIgnoredQueryParams)
				require.Equal(t, []string{"10.0.0.2:53", "[fd00::2]:53"}, cfg.DNSServers)
				require.Equal(t, LoggingModeAll, cfg.Logger.Mode)
				require.Equal(t, time.Second, cfg.Logger.SlowRequestThreshold)
				require.False(t, cfg.Metrics.Enabled)
				require.Equal(t, []RateLimitRule{
					{
						Hosts:       ratelimit.HostList{"api.openai.com", "*.openai.azure.com"},
						Rate:        ratelimit.Rate{Count: 60, Duration: time.Minute},
						Burst:       5,
						WaitTimeout: 2 * time.Second,
					},
					{
						Hosts: ratelimit.HostList{"generativelanguage.googleapis.com"},
						Rate:  ratelimit.Rate{Count: 10, Duration: time.Second},
					},
				}, cfg.RateLimits)
			},
		},
		{
			name:     "invalid pool size",
			dataType: config.DataTypeJSON,
			data:     `{"connection": {"maxConnectionsPerHost": 0}}`,
			wantErr:  "connection: maxConnectionsPerHost should be >= 1",
		},
		{
			name:     "invalid logger mode",
			dataType: config.DataTypeJSON,
			data:     `{"connection": {"logger": {"mode": "verbose"}}}`,
			wantErr:  `connection.logger.mode: unknown value "verbose", should be one of [none all failed]`,
		},
		{
			name:     "invalid rate",
			dataType: config.DataTypeJSON,
			data:     `{"connection": {"rateLimits": [{"hosts": ["a"], "rate": "fast"}]}}`,
			wantErr:  "should be N/(s|m|h)",
		},
		{
			name:     "dns server without port",
			dataType: config.DataTypeJSON,
			data:     `{"connection": {"dnsServers": ["10.0.0.2"]}}`,
			wantErr:  "connection: dnsServers[0]: address 10.0.0.2: missing port in address",
		},
		{
			name:     "rule without hosts",
			dataType: config.DataTypeJSON,
			data:     `{"connection": {"rateLimits": [{"rate": "1/s"}]}}`,
			wantErr:  "connection: rateLimits[0]: hosts should not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
				bytes.NewBufferString(tt.data), tt.dataType, cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.want(t, cfg)
		})
	}
}
