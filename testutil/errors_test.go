/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequireErrorIsAny(t *testing.T) {
	errRateLimited := errors.New("rate limited")
	errCircuitOpen := errors.New("circuit open")
	errPoolClosed := errors.New("pool closed")
	targets := []error{errRateLimited, errCircuitOpen, errPoolClosed}

	tests := []struct {
		name       string
		err        error
		wantFailed bool
		wantInMsg  []string
	}{
		{
			name: "wrapped target",
			err:  fmt.Errorf("probe openai: %w", errCircuitOpen),
		},
		{
			name: "target in joined errors",
			err:  errors.Join(errors.New("unauthorized"), fmt.Errorf("retry: %w", errPoolClosed)),
		},
		{
			name:       "no target in chain",
			err:        fmt.Errorf("probe openai: %w", errors.New("unauthorized")),
			wantFailed: true,
			wantInMsg:  []string{`"rate limited"; "circuit open"; "pool closed"`, "\t\t\"unauthorized\""},
		},
		{
			name:       "nil error",
			wantFailed: true,
			wantInMsg:  []string{"<nil>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &MockT{}
			RequireErrorIsAny(mockT, tt.err, targets)
			require.Equal(t, tt.wantFailed, mockT.Failed)
			for _, s := range tt.wantInMsg {
				require.Contains(t, mockT.Message, s)
			}
		})
	}
}

func TestRequireNoErrorInChannel(t *testing.T) {
	mockT := &MockT{}
	ch := make(chan error, 1)

	RequireNoErrorInChannel(mockT, ch)
	require.False(t, mockT.Failed)

	ch <- nil
	RequireNoErrorInChannel(mockT, ch)
	require.False(t, mockT.Failed)

	ch <- errors.New("listen tcp: address already in use")
	RequireNoErrorInChannel(mockT, ch)
	require.True(t, mockT.Failed)
	require.Contains(t, mockT.Message, "address already in use")
}
