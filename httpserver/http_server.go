/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpserver provides the status HTTP server of a validation process: Prometheus metrics,
// health-check and a small JSON API, run as a service.Unit.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/service"
)

// Opts represents options for creating HTTPServer.
type Opts struct {
	APIRoutes      map[APIVersion]APIRoute
	HealthCheck    HealthCheck
	MetricsHandler http.Handler

	// Listener is a pre-configured network listener to use instead of creating a new one.
	Listener net.Listener
}

// HTTPServer represents a wrapper around http.Server with chi.Router as a handler.
// It implements service.Unit.
type HTTPServer struct {
	URL             string
	HTTPServer      *http.Server
	HTTPRouter      chi.Router
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	listener       net.Listener
	port           int32
	httpServerDone atomic.Value
}

var _ service.Unit = (*HTTPServer)(nil)

// New creates a new HTTPServer.
func New(cfg *Config, logger log.FieldLogger, opts Opts) *HTTPServer {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	router := NewRouter(logger, RouterOpts{
		APIRoutes:      opts.APIRoutes,
		HealthCheck:    opts.HealthCheck,
		MetricsHandler: opts.MetricsHandler,
		Logging: LoggingOpts{
			RequestStart:         cfg.Log.RequestStart,
			ExcludedEndpoints:    cfg.Log.ExcludedEndpoints,
			SlowRequestThreshold: cfg.Log.SlowRequestThreshold,
		},
	})
	return &HTTPServer{
		URL: "http://" + cfg.Address,
		HTTPServer: &http.Server{
			Addr:              cfg.Address,
			WriteTimeout:      cfg.Timeouts.Write,
			ReadTimeout:       cfg.Timeouts.Read,
			ReadHeaderTimeout: cfg.Timeouts.ReadHeader,
			IdleTimeout:       cfg.Timeouts.Idle,
			Handler:           router,
		},
		HTTPRouter:      router,
		Logger:          logger,
		ShutdownTimeout: cfg.Timeouts.Shutdown,
		listener:        opts.Listener,
	}
}

// Start starts the HTTP server in a blocking way.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *HTTPServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.httpServerDone.Store(done)

	logger := s.Logger.With(
		log.String("address", s.HTTPServer.Addr),
		log.Duration("write_timeout", s.HTTPServer.WriteTimeout),
		log.Duration("read_timeout", s.HTTPServer.ReadTimeout),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)
	logger.Info("starting status HTTP server...")

	var err error
	if s.listener == nil {
		if s.listener, err = net.Listen("tcp", s.HTTPServer.Addr); err != nil {
			logger.Error("status HTTP server error", log.Error(err))
			fatalError <- err
			return
		}
	}

	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		logger.Error("unexpected format of TCP listener address: unable to split host and port", log.Error(err))
		fatalError <- err
		return
	}
	port, err := strconv.ParseInt(portStr, 10, 32)
	if err != nil {
		logger.Error("unexpected format of TCP listener address: no numeric port", log.Error(err))
		fatalError <- err
		return
	}
	atomic.StoreInt32(&s.port, int32(port))

	if err = s.HTTPServer.Serve(s.listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("status HTTP server closed")
			return
		}
		logger.Error("status HTTP server error", log.Error(err))
		fatalError <- fmt.Errorf("serve status HTTP server: %w", err)
	}
}

// Stop stops the HTTP server (gracefully or not).
func (s *HTTPServer) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing status HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("status HTTP server closing error", log.Error(err))
			return err
		}
		s.waitDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down status HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("status HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("status HTTP server shut down")
	s.waitDone()
	return nil
}

func (s *HTTPServer) waitDone() {
	if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
		<-done // Wait for the listener to be closed.
	}
}

// GetPort returns the port the server listens on, 0 until the listener is ready.
func (s *HTTPServer) GetPort() int {
	return int(atomic.LoadInt32(&s.port))
}
