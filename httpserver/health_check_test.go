/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-keyprobe/log/logtest"
	"github.com/acronis/go-keyprobe/testutil"
)

func TestHealthCheckHandler(t *testing.T) {
	tests := []struct {
		name       string
		check      HealthCheck
		wantCode   int
		wantStatus HealthCheckStatus
		wantComps  map[string]HealthCheckStatus
	}{
		{
			name:       "no components",
			wantCode:   http.StatusOK,
			wantStatus: HealthCheckStatusOK,
			wantComps:  map[string]HealthCheckStatus{},
		},
		{
			name: "all components are ok",
			check: func(ctx context.Context) (HealthCheckResult, error) {
				return HealthCheckResult{"engine": HealthCheckStatusOK, "pool": HealthCheckStatusOK}, nil
			},
			wantCode:   http.StatusOK,
			wantStatus: HealthCheckStatusOK,
			wantComps:  map[string]HealthCheckStatus{"engine": HealthCheckStatusOK, "pool": HealthCheckStatusOK},
		},
		{
			name: "unknown status is a failure",
			check: func(ctx context.Context) (HealthCheckResult, error) {
				return HealthCheckResult{"engine": HealthCheckStatusOK, "pool": "degraded"}, nil
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: HealthCheckStatusFail,
			wantComps:  map[string]HealthCheckStatus{"engine": HealthCheckStatusOK, "pool": HealthCheckStatusFail},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req = req.WithContext(NewContextWithLogger(req.Context(), logtest.NewRecorder()))
			resp := httptest.NewRecorder()
			NewHealthCheckHandler(tt.check).ServeHTTP(resp, req)

			require.Equal(t, tt.wantCode, resp.Code)
			testutil.RequireJSONInRecorder(t, resp,
				&healthCheckResponseData{Status: tt.wantStatus, Components: tt.wantComps}, &healthCheckResponseData{})
		})
	}
}
