/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    Rate
		wantErr bool
	}{
		{in: "10/s", want: Rate{Count: 10, Duration: time.Second}},
		{in: " 100/M ", want: Rate{Count: 100, Duration: time.Minute}},
		{in: "1000/h", want: Rate{Count: 1000, Duration: time.Hour}},
		{in: "", want: Rate{}},
		{in: "10", wantErr: true},
		{in: "ten/s", wantErr: true},
		{in: "-1/s", wantErr: true},
		{in: "10/d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if tt.wantErr {
				require.ErrorContains(t, err, "should be N/(s|m|h)")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRateString(t *testing.T) {
	require.Equal(t, "10/s", Rate{Count: 10, Duration: time.Second}.String())
	require.Equal(t, "5/m", Rate{Count: 5, Duration: time.Minute}.String())
	require.Equal(t, "", Rate{}.String())
}

func TestHostRuleDecoding(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var rule HostRule
		require.NoError(t, json.Unmarshal([]byte(`{"hosts": ["*.openai.com"], "rate": "60/m", "burst": 5}`), &rule))
		require.Equal(t, HostList{"*.openai.com"}, rule.Hosts)
		require.Equal(t, Rate{Count: 60, Duration: time.Minute}, rule.Rate)
		require.Equal(t, 5, rule.Burst)
	})

	t.Run("yaml", func(t *testing.T) {
		var rule HostRule
		require.NoError(t, yaml.Unmarshal([]byte("hosts: [api.anthropic.com]\nrate: 2/s\n"), &rule))
		require.Equal(t, Rate{Count: 2, Duration: time.Second}, rule.Rate)
	})

	t.Run("invalid rate", func(t *testing.T) {
		var rule HostRule
		require.Error(t, json.Unmarshal([]byte(`{"hosts": ["a"], "rate": "fast"}`), &rule))
	})
}

func TestHostListUnmarshalText(t *testing.T) {
	var l HostList
	require.NoError(t, l.UnmarshalText([]byte("api.openai.com, *.googleapis.com,,")))
	require.Equal(t, HostList{"api.openai.com", "*.googleapis.com"}, l)
}

func TestHostListUnmarshalJSON(t *testing.T) {
	var l HostList
	require.NoError(t, json.Unmarshal([]byte(`"a.com,b.com"`), &l))
	require.Equal(t, HostList{"a.com", "b.com"}, l)
	require.NoError(t, json.Unmarshal([]byte(`["c.com"]`), &l))
	require.Equal(t, HostList{"c.com"}, l)
	require.Error(t, json.Unmarshal([]byte(`42`), &l))
}
