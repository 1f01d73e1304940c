/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMasker_Mask(t *testing.T) {
	masker := NewMasker(DefaultMasks, DefaultSecretPrefixes)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "authorization header",
			in:   "GET /v1/models HTTP/1.1\r\nAuthorization: Bearer abcdef\r\nAccept: */*\r\n",
			want: "GET /v1/models HTTP/1.1\r\nAuthorization: ***\r\nAccept: */*\r\n",
		},
		{
			name: "x-api-key header",
			in:   "x-api-key: secret-value",
			want: "x-api-key: ***",
		},
		{
			name: "x-goog-api-key header",
			in:   "X-Goog-Api-Key: my-google-key",
			want: "X-Goog-Api-Key: ***",
		},
		{
			name: "json api_key",
			in:   `{"api_key": "abc\"def", "model": "gpt-4"}`,
			want: `{"api_key": "***", "model": "gpt-4"}`,
		},
		{
			name: "key query param",
			in:   `Get "https://example.com/v1beta/models?key=qwerty&pageSize=1": EOF`,
			want: `Get "https://example.com/v1beta/models?key=***&pageSize=1": EOF`,
		},
		{
			name: "monkey query param is not a key",
			in:   "https://example.com/?monkey=banana",
			want: "https://example.com/?monkey=banana",
		},
		{
			name: "openai key in free text",
			in:   "credential sk-abcdEFGH1234 rejected",
			want: "credential sk-*** rejected",
		},
		{
			name: "anthropic key keeps the longer prefix",
			in:   "sk-ant-api03-xyzXYZ",
			want: "sk-ant-***",
		},
		{
			name: "gemini key",
			in:   "AIzaSyD-123456789",
			want: "AIza***",
		},
		{
			name: "short tail is not a key",
			in:   "task-sk-ab",
			want: "task-sk-ab",
		},
		{
			name: "prefix inside a word",
			in:   "task-12345678",
			want: "task-12345678",
		},
		{
			name: "nothing to mask",
			in:   "connection refused",
			want: "connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, masker.Mask(tt.in))
		})
	}
}

func TestNewMaskerFromConfig(t *testing.T) {
	t.Run("custom rules only", func(t *testing.T) {
		m := NewMaskerFromConfig(MaskingConfig{
			Rules: []MaskingRuleConfig{{Field: "token", Formats: []FieldMaskFormat{FieldMaskFormatURLEncoded}}},
		})
		require.Equal(t, "token=*** x-api-key: abc", m.Mask("token=123 x-api-key: abc"))
	})

	t.Run("custom and default rules", func(t *testing.T) {
		m := NewMaskerFromConfig(MaskingConfig{
			UseDefaultRules: true,
			Rules:           []MaskingRuleConfig{{Field: "token", Formats: []FieldMaskFormat{FieldMaskFormatURLEncoded}}},
		})
		require.Equal(t, "token=*** x-api-key: ***", m.Mask("token=123 x-api-key: abc"))
	})
}
