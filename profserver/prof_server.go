/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides an HTTP server exposing pprof profiles of a running validation.
package profserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-keyprobe/httpserver"
	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/service"
)

const shutdownTimeout = 5 * time.Second

// ProfServer serves /debug/pprof/* while the process runs. It implements service.Unit.
type ProfServer struct {
	URL        string
	HTTPServer *http.Server
	Logger     log.FieldLogger

	serveDone chan struct{}
}

var _ service.Unit = (*ProfServer)(nil)

// New creates a profiling server listening on cfg.Address once started.
func New(cfg *Config, logger log.FieldLogger) *ProfServer {
	logger = logger.With(log.String("address", cfg.Address))

	router := chi.NewRouter()
	router.Use(httpserver.RequestID(), httpserver.Logging(logger, httpserver.LoggingOpts{RequestStart: true}))
	router.Mount("/debug", chimw.Profiler())

	return &ProfServer{
		URL:        "http://" + cfg.Address,
		HTTPServer: &http.Server{Addr: cfg.Address, Handler: router, ReadHeaderTimeout: 5 * time.Second},
		Logger:     logger,
		serveDone:  make(chan struct{}),
	}
}

// Start listens and serves until Stop is called. A listen or serve failure is sent to fatalError.
func (s *ProfServer) Start(fatalError chan<- error) {
	defer close(s.serveDone)

	s.Logger.Info("starting profiling HTTP server...")
	ln, err := net.Listen("tcp", s.HTTPServer.Addr)
	if err == nil {
		err = s.HTTPServer.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		s.Logger.Info("profiling HTTP server closed")
		return
	}
	s.Logger.Error("profiling HTTP server error", log.Error(err))
	fatalError <- err
}

// Stop closes the server. Gracefully it waits up to 5 seconds for running profiles to be written.
func (s *ProfServer) Stop(gracefully bool) error {
	s.Logger.Info("closing profiling HTTP server...", log.Bool("graceful", gracefully))
	var err error
	if gracefully {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err = s.HTTPServer.Shutdown(ctx); err != nil {
			err = s.HTTPServer.Close()
		}
	} else {
		err = s.HTTPServer.Close()
	}
	if err != nil {
		s.Logger.Error("profiling HTTP server closing error", log.Error(err))
		return err
	}
	<-s.serveDone
	return nil
}
