/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"nil", nil, Classification{}},
		{"status error 401", NewStatusError(401, "bad key"), Classification{Code: 401, Class: ClassAuth}},
		{"status error 404 wrapped", fmt.Errorf("probe: %w", NewStatusError(404, "")), Classification{Code: 404, Class: ClassNotFound}},
		{"status error 429", NewStatusError(429, ""), Classification{Code: 429, Class: ClassRateLimit}},
		{"status error 503", NewStatusError(503, ""), Classification{Code: 503, Class: ClassServer}},
		{"network wrapper", TransientNetworkError(errors.New("dial tcp: i/o timeout")), Classification{Class: ClassNetwork}},
		{"circuit open", CircuitOpenError("openai"), Classification{Class: ClassCircuitOpen}},
		{"merge expired", MergeExpiredError("GET api/v1/models"), Classification{Class: ClassMergeExpired}},
		{"sentinel", fmt.Errorf("stop: %w", ErrCancelled), Classification{Class: ClassCancelled}},
		{"deadline", context.DeadlineExceeded, Classification{Class: ClassNetwork}},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example.com"}, Classification{Class: ClassNetwork}},
		{"text HTTP code", errors.New("request failed: HTTP 502 from upstream"), Classification{Code: 502, Class: ClassServer}},
		{"text trailing code", errors.New("unexpected status 403"), Classification{Code: 403, Class: ClassAuth}},
		{"text network hint", errors.New("read: connection reset by peer"), Classification{Class: ClassNetwork}},
		{"text unknown", errors.New("model is overloaded with feelings"), Classification{Class: ClassUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestParseStatusCode(t *testing.T) {
	require.Equal(t, 429, ParseStatusCode("HTTP/429 too many requests"))
	require.Equal(t, 500, ParseStatusCode("server said 500"))
	require.Equal(t, 0, ParseStatusCode("attempt 12345"))
	require.Equal(t, 0, ParseStatusCode("code 999"))
	require.Equal(t, 0, ParseStatusCode(""))
}

func TestStatusError(t *testing.T) {
	err := NewStatusError(401, "invalid x-api-key")
	require.ErrorIs(t, err, ErrTerminalAuth)
	require.EqualError(t, err, "HTTP 401: authentication failed: invalid x-api-key")

	netErr := TransientNetworkError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})
	require.ErrorIs(t, netErr, ErrTransientNetwork)
	var opErr *net.OpError
	require.ErrorAs(t, netErr, &opErr)
}

func TestOutcome_Err(t *testing.T) {
	require.NoError(t, Outcome{Kind: OutcomeSuccess}.Err())
	require.ErrorIs(t, Outcome{Kind: OutcomeRateLimited, StatusCode: 429}.Err(), ErrRateLimit)
	require.ErrorIs(t, Outcome{Kind: OutcomeRetryableError}.Err(), ErrTransientServer)
	require.ErrorIs(t, Outcome{Kind: OutcomeRetryableError, Class: ClassNetwork}.Err(), ErrTransientNetwork)
	require.ErrorIs(t, Outcome{Kind: OutcomeTerminalError}.Err(), ErrUnknown)

	c := Classify(Outcome{Kind: OutcomeTerminalError, StatusCode: 403, Message: "forbidden"}.Err())
	require.Equal(t, Classification{Code: 403, Class: ClassAuth}, c)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{name: "short", secret: "short", want: "***"},
		{name: "ascii", secret: "sk-abcdefghijklmnopqrstuvwxyz", want: "sk-a...wxyz"},
		{name: "short multi-byte", secret: "ключ-секрет", want: "***"},
		{name: "multi-byte", secret: "ключ-очень-длинный-секрет", want: "ключ...крет"},
		{name: "emoji", secret: "🔑🔑abcdefghijklmn🔒🔒", want: "🔑🔑ab...mn🔒🔒"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskSecret(tt.secret)
			require.Equal(t, tt.want, got)
			require.True(t, utf8.ValidString(got))
		})
	}
}
