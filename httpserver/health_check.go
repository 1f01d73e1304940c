/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/acronis/go-keyprobe/log"
)

// StatusClientClosedRequest is the non-standard status (introduced by Nginx) for a request whose client went away
// before the response was written.
const StatusClientClosedRequest = 499

// HealthCheckStatus is the state of a single component reported by a HealthCheck.
type HealthCheckStatus string

// Health-check statuses.
const (
	HealthCheckStatusOK   HealthCheckStatus = "ok"
	HealthCheckStatusFail HealthCheckStatus = "fail"
)

// HealthCheckResult maps component names (e.g. "engine") to their statuses.
type HealthCheckResult = map[string]HealthCheckStatus

// HealthCheck reports the statuses of the components. It's called on every /healthz request.
type HealthCheck = func(ctx context.Context) (HealthCheckResult, error)

type healthCheckResponseData struct {
	Status     HealthCheckStatus            `json:"status"`
	Components map[string]HealthCheckStatus `json:"components"`
}

// HealthCheckHandler serves /healthz. It responds 200 when every component is ok and 503 otherwise.
type HealthCheckHandler struct {
	check HealthCheck
}

// NewHealthCheckHandler creates a new HealthCheckHandler. A nil fn reports no components.
func NewHealthCheckHandler(fn HealthCheck) *HealthCheckHandler {
	if fn == nil {
		fn = func(ctx context.Context) (HealthCheckResult, error) {
			return nil, ctx.Err()
		}
	}
	return &HealthCheckHandler{check: fn}
}

// ServeHTTP serves heath-check HTTP request.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromContext(r.Context())
	result, err := h.check(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
			return
		}
		if logger != nil {
			logger.Error("health-check failed", log.Error(err))
		}
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	respData := healthCheckResponseData{Status: HealthCheckStatusOK, Components: make(map[string]HealthCheckStatus, len(result))}
	for name, status := range result {
		if status != HealthCheckStatusOK {
			status = HealthCheckStatusFail
			respData.Status = HealthCheckStatusFail
		}
		respData.Components[name] = status
	}
	if respData.Status != HealthCheckStatusOK {
		RespondCodeAndJSON(rw, http.StatusServiceUnavailable, respData, logger)
		return
	}
	RespondJSON(rw, respData, logger)
}
