/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/atomic"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-keyprobe/engine"
	"github.com/acronis/go-keyprobe/httpserver"
	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/probe"
	"github.com/acronis/go-keyprobe/service"
)

// Report is the output of a validation run.
type Report struct {
	Run     string             `json:"run" yaml:"run"`
	Summary engine.Summary     `json:"summary" yaml:"summary"`
	Results []probe.TaskResult `json:"results" yaml:"results"`
}

// runner validates the credentials as a single engine run. It is run by service.WorkerUnit,
// stopping the unit cancels the run cooperatively.
type runner struct {
	engine      *engine.Engine
	credentials []probe.Credential
	logger      log.FieldLogger

	handle atomic.Pointer[engine.Handle]

	mu      sync.Mutex
	results []probe.TaskResult
	err     error
}

var _ service.Worker = (*runner)(nil)

func newRunner(eng *engine.Engine, creds []probe.Credential, logger log.FieldLogger) *runner {
	return &runner{engine: eng, credentials: creds, logger: logger}
}

// Run starts the engine run and collects its results. The error is kept for the caller
// instead of being returned, a finished unit may hide its fatal error from service.Service.
func (r *runner) Run(ctx context.Context) error {
	h, err := r.engine.Start(ctx, r.credentials)
	if err != nil {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		return nil
	}
	r.handle.Store(h)

	for res := range h.Results() {
		r.logger.Debug("credential checked",
			log.String("credential", res.Credential), log.String("provider", res.Provider),
			log.String("status", string(res.Status)), log.Int("attempts", res.Attempts))
		r.mu.Lock()
		r.results = append(r.results, res)
		r.mu.Unlock()
	}
	return nil
}

func (r *runner) runErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *runner) report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := Report{Results: append([]probe.TaskResult(nil), r.results...)}
	if h := r.handle.Load(); h != nil {
		rep.Run = h.ID()
		rep.Summary = h.Summary()
	}
	return rep
}

type runStatusResponse struct {
	Run       string         `json:"run"`
	Finished  bool           `json:"finished"`
	Cancelled bool           `json:"cancelled"`
	Summary   engine.Summary `json:"summary"`
}

type controllerResponse struct {
	Limit          int     `json:"limit"`
	Running        int     `json:"running"`
	Waiting        int     `json:"waiting"`
	Samples        int     `json:"samples"`
	RateLimitRatio float64 `json:"rateLimitRatio"`
	SuccessRate    float64 `json:"successRate"`
	AvgLatencyMs   int64   `json:"avgLatencyMs"`
}

func (r *runner) statusRoutes(router chi.Router) {
	router.Get("/run", r.handleRunStatus)
	router.Get("/controller", r.handleControllerSnapshot)
}

func (r *runner) handleRunStatus(rw http.ResponseWriter, req *http.Request) {
	logger := httpserver.GetLoggerFromContext(req.Context())
	h := r.handle.Load()
	if h == nil {
		httpserver.RespondError(rw, http.StatusNotFound, httpserver.ErrCodeNotFound, "Run is not started yet.", logger)
		return
	}
	finished := false
	select {
	case <-h.Done():
		finished = true
	default:
	}
	httpserver.RespondJSON(rw, runStatusResponse{
		Run: h.ID(), Finished: finished, Cancelled: h.Cancelled(), Summary: h.Summary(),
	}, logger)
}

func (r *runner) handleControllerSnapshot(rw http.ResponseWriter, req *http.Request) {
	s := r.engine.Controller().Snapshot()
	httpserver.RespondJSON(rw, controllerResponse{
		Limit:          s.Limit,
		Running:        s.Running,
		Waiting:        s.Waiting,
		Samples:        s.Stats.Samples,
		RateLimitRatio: s.Stats.RateLimitRatio,
		SuccessRate:    s.Stats.SuccessRate,
		AvgLatencyMs:   s.Stats.AvgLatency.Milliseconds(),
	}, httpserver.GetLoggerFromContext(req.Context()))
}

// healthCheck reports the engine as failed once its run is cancelled.
func (r *runner) healthCheck(ctx context.Context) (httpserver.HealthCheckResult, error) {
	status := httpserver.HealthCheckStatusOK
	if h := r.handle.Load(); h != nil && h.Cancelled() {
		status = httpserver.HealthCheckStatusFail
	}
	return httpserver.HealthCheckResult{"engine": status}, ctx.Err()
}

func readCredentials(path string, stdin io.Reader) ([]probe.Credential, error) {
	if path == "" || path == "-" {
		return decodeCredentials(stdin)
	}
	f, err := os.Open(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return decodeCredentials(f)
}

func decodeCredentials(r io.Reader) ([]probe.Credential, error) {
	var creds []probe.Credential
	// JSON is a subset of YAML, one decoder serves both formats.
	if err := yaml.NewDecoder(r).Decode(&creds); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	for i, c := range creds {
		if c.Secret == "" {
			return nil, fmt.Errorf("credential #%d: secret should be set", i)
		}
		if c.Provider == "" {
			return nil, fmt.Errorf("credential #%d (%s): provider should be set", i, c.Masked())
		}
	}
	return creds, nil
}

func writeReport(flags *cliFlags, rep Report, stdout io.Writer) (err error) {
	w := stdout
	if flags.outputPath != "" {
		var f *os.File
		if f, err = os.Create(flags.outputPath); err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close output file: %w", closeErr)
			}
		}()
		w = f
	}

	switch flags.format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err = enc.Encode(rep); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err = enc.Encode(rep); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		return nil
	}
}
