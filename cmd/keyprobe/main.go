/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command keyprobe validates a batch of API credentials against their providers
// and prints one result per credential.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	golog "log"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/acronis/go-keyprobe/config"
	"github.com/acronis/go-keyprobe/engine"
	"github.com/acronis/go-keyprobe/httpserver"
	"github.com/acronis/go-keyprobe/internal/libinfo"
	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/profserver"
	"github.com/acronis/go-keyprobe/service"
)

const envVarsPrefix = "KEYPROBE"

// Output formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var errNoCredentials = errors.New("no credentials to validate")

func main() {
	if err := runApp(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		golog.Fatal(err)
	}
}

type cliFlags struct {
	configPath      string
	credentialsPath string
	outputPath      string
	format          string
	version         bool
}

func runApp(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	flags, cfg, err := parseArgsAndLoadConfig(args)
	if err != nil {
		return err
	}
	if flags.version {
		_, err = fmt.Fprintf(stdout, "keyprobe %s\n", libinfo.GetVersion())
		return err
	}

	creds, err := readCredentials(flags.credentialsPath, stdin)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	if len(creds) == 0 {
		return errNoCredentials
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	registry := prometheus.NewRegistry()
	metrics := engine.NewPrometheusMetricsWithOpts(engine.PrometheusMetricsOpts{
		Namespace:   "keyprobe",
		ConstLabels: libinfo.AddPrometheusVersionLabel(nil),
	})

	eng, err := engine.New(cfg.Engine, engine.Opts{Logger: logger, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close()

	r := newRunner(eng, creds, logger)
	units := []service.Unit{service.NewWorkerUnitWithOpts(r, service.WorkerUnitOpts{
		MetricsRegisterer: &metricsRegisterer{metrics: metrics, registerer: registry},
	})}
	if cfg.Server.Enabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		srv := httpserver.New(cfg.Server, logger, httpserver.Opts{
			APIRoutes:      map[httpserver.APIVersion]httpserver.APIRoute{1: r.statusRoutes},
			HealthCheck:    r.healthCheck,
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		})
		units = append(units, srv)
	}
	if cfg.Profiling.Enabled {
		units = append(units, profserver.New(cfg.Profiling, logger))
	}

	unit := units[0]
	if len(units) > 1 {
		unit = service.NewCompositeUnit(units...)
	}
	if err = service.New(logger, unit).StartContext(ctx); err != nil {
		return err
	}
	if err = r.runErr(); err != nil {
		return fmt.Errorf("run validation: %w", err)
	}
	return writeReport(flags, r.report(), stdout)
}

func parseArgsAndLoadConfig(args []string) (*cliFlags, *AppConfig, error) {
	flags := &cliFlags{}
	fs := pflag.NewFlagSet("keyprobe", pflag.ContinueOnError)
	fs.StringVarP(&flags.configPath, "config", "c", "", "path to the configuration file (.yaml, .yml or .json)")
	fs.StringVarP(&flags.credentialsPath, "credentials", "i", "-",
		`path to the credentials file (YAML or JSON list of {secret, provider, model}), "-" reads stdin`)
	fs.StringVarP(&flags.outputPath, "output", "o", "", "path to the results file, stdout if empty")
	fs.StringVarP(&flags.format, "format", "f", formatJSON, "results format: json or yaml")
	fs.String("server-address", "", "address of the status HTTP server")
	fs.Bool("server-enabled", false, "serve metrics, health-check and run status while validating")
	fs.BoolVar(&flags.version, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if flags.version {
		return flags, nil, nil
	}
	switch flags.format {
	case formatJSON, formatYAML:
	default:
		return nil, nil, fmt.Errorf("unknown output format %q", flags.format)
	}

	va := config.NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	for key, name := range map[string]string{"server.address": "server-address", "server.enabled": "server-enabled"} {
		if flag := fs.Lookup(name); flag.Changed {
			if err := va.BindFlag(key, flag); err != nil {
				return nil, nil, err
			}
		}
	}

	cfg := NewAppConfig()
	loader := config.NewLoader(va)
	var err error
	if flags.configPath != "" {
		var dataType config.DataType
		if dataType, err = dataTypeByPath(flags.configPath); err != nil {
			return nil, nil, err
		}
		err = loader.LoadFromFile(flags.configPath, dataType, cfg.Log, cfg.Configs()...)
	} else {
		err = loader.Load(cfg.Log, cfg.Configs()...)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return flags, cfg, nil
}

func dataTypeByPath(path string) (config.DataType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.DataTypeYAML, nil
	case ".json":
		return config.DataTypeJSON, nil
	}
	return "", fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
}

// AppConfig is the configuration of the keyprobe command.
type AppConfig struct {
	Engine    *engine.Config
	Log       *log.Config
	Server    *httpserver.Config
	Profiling *profserver.Config
}

// NewAppConfig creates an AppConfig ready to be loaded.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Engine:    engine.NewConfig(),
		Log:       log.NewConfig(),
		Server:    httpserver.NewConfig(),
		Profiling: profserver.NewConfig(),
	}
}

// Configs returns the component configs except the logging one.
func (c *AppConfig) Configs() []config.Config {
	return append(c.Engine.Configs(), c.Server, c.Profiling)
}

type metricsRegisterer struct {
	metrics    *engine.PrometheusMetrics
	registerer prometheus.Registerer
}

func (mr *metricsRegisterer) MustRegisterMetrics() {
	mr.metrics.MustRegister(mr.registerer)
}

func (mr *metricsRegisterer) UnregisterMetrics() {
	mr.metrics.Unregister(mr.registerer)
}
