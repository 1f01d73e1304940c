/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-keyprobe/log"
)

// systemEndpoints are not logged unless they fail.
var systemEndpoints = []string{"/metrics", "/healthz"}

// APIVersion is a type alias for API version.
type APIVersion = int

// APIRoute is a type alias for single API route.
type APIRoute = func(router chi.Router)

// RouterOpts represents options for creating chi.Router.
type RouterOpts struct {
	APIRoutes      map[APIVersion]APIRoute
	HealthCheck    HealthCheck
	MetricsHandler http.Handler
	Logging        LoggingOpts
}

// NewRouter creates a new chi.Router with request id, logging and recovery middlewares,
// /metrics, /healthz and /api/v{N} routes.
func NewRouter(logger log.FieldLogger, opts RouterOpts) chi.Router {
	if opts.Logging.ExcludedEndpoints == nil {
		opts.Logging.ExcludedEndpoints = systemEndpoints
	}

	router := chi.NewRouter()
	router.Use(RequestID())
	router.Use(Logging(logger, opts.Logging))
	router.Use(Recovery(RecoveryDefaultStackSize))

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)
	router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(opts.HealthCheck))

	router.Route("/api", func(router chi.Router) {
		for ver, r := range opts.APIRoutes {
			router.Route(fmt.Sprintf("/v%d", ver), r)
		}
	})

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		RespondError(rw, http.StatusNotFound, ErrCodeNotFound, "Not found.", GetLoggerFromContext(r.Context()))
	})
	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		RespondError(rw, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed.",
			GetLoggerFromContext(r.Context()))
	})
	return router
}
