/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-keyprobe/engine"
	"github.com/acronis/go-keyprobe/httpserver"
	"github.com/acronis/go-keyprobe/internal/libinfo"
	"github.com/acronis/go-keyprobe/log/logtest"
	"github.com/acronis/go-keyprobe/probe"
	"github.com/acronis/go-keyprobe/testutil"
)

const (
	goodKey = "sk-good-000000000000"
	paidKey = "sk-paid-000000000000"
	badKey  = "sk-bad-0000000000000"
)

func newFakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		switch {
		case auth != "Bearer "+goodKey && auth != "Bearer "+paidKey:
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusUnauthorized)
			_, _ = rw.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
		case r.URL.Path == "/v1/models":
			_, _ = rw.Write([]byte(`{"data":[]}`))
		case r.URL.Path == "/v1/models/gpt-4o" && auth == "Bearer "+paidKey:
			_, _ = rw.Write([]byte(`{"id":"gpt-4o"}`))
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func writeConfigFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func testConfigYAML(baseURL string) string {
	return fmt.Sprintf(`
log:
  level: error
  output: stderr
admission:
  initialLimit: 2
retry:
  maxRetries: 0
dispatch:
  baseURLs:
    openai: %q
`, baseURL)
}

const testCredentialsJSON = `[
  {"secret": "` + goodKey + `", "provider": "openai", "model": "good"},
  {"secret": "` + paidKey + `", "provider": "openai", "model": "gpt-4o"},
  {"secret": "` + badKey + `", "provider": "openai", "model": "bad"}
]`

func resultsByModel(t *testing.T, results []probe.TaskResult) map[string]probe.TaskResult {
	t.Helper()
	byModel := make(map[string]probe.TaskResult, len(results))
	for _, res := range results {
		byModel[res.Model] = res
	}
	require.Len(t, byModel, len(results))
	return byModel
}

func TestRunApp(t *testing.T) {
	server := newFakeOpenAI(t)
	cfgPath := writeConfigFile(t, "config.yaml", testConfigYAML(server.URL))

	var stdout bytes.Buffer
	err := runApp(context.Background(), []string{"--config", cfgPath}, strings.NewReader(testCredentialsJSON), &stdout)
	require.NoError(t, err)

	for _, key := range []string{goodKey, paidKey, badKey} {
		require.NotContains(t, stdout.String(), key)
	}

	var rep Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rep))
	require.NotEmpty(t, rep.Run)
	require.Equal(t, engine.Summary{Total: 3, Valid: 1, Paid: 1, Invalid: 1}, rep.Summary)
	require.Len(t, rep.Results, 3)

	results := resultsByModel(t, rep.Results)
	require.Equal(t, probe.StatusValid, results["good"].Status)
	require.Equal(t, probe.TierFree, results["good"].Tier)
	require.Equal(t, probe.StatusPaid, results["gpt-4o"].Status)
	require.Equal(t, probe.StatusInvalid, results["bad"].Status)
	require.Equal(t, http.StatusUnauthorized, results["bad"].StatusCode)
	require.Equal(t, probe.MaskSecret(badKey), results["bad"].Credential)
}

func TestRunApp_YAMLOutputWithServers(t *testing.T) {
	server := newFakeOpenAI(t)
	cfgPath := writeConfigFile(t, "config.yml", testConfigYAML(server.URL)+fmt.Sprintf(`
profiling:
  enabled: true
  address: %q
`, testutil.GetLocalAddrWithFreeTCPPort()))
	credsPath := writeConfigFile(t, "credentials.yaml", `
- secret: `+goodKey+`
  provider: openai
  model: good
- secret: `+badKey+`
  provider: openai
  model: bad
`)
	outPath := filepath.Join(t.TempDir(), "results.yaml")

	err := runApp(context.Background(), []string{
		"-c", cfgPath, "-i", credsPath, "-o", outPath, "-f", "yaml",
		"--server-enabled", "--server-address", testutil.GetLocalAddrWithFreeTCPPort(),
	}, strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var rep Report
	require.NoError(t, yaml.Unmarshal(data, &rep))
	require.Equal(t, engine.Summary{Total: 2, Valid: 1, Invalid: 1}, rep.Summary)
	results := resultsByModel(t, rep.Results)
	require.Equal(t, probe.StatusValid, results["good"].Status)
	require.Equal(t, probe.StatusInvalid, results["bad"].Status)
}

func TestRunApp_Version(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, runApp(context.Background(), []string{"--version"}, strings.NewReader(""), &stdout))
	require.Equal(t, "keyprobe "+libinfo.GetVersion()+"\n", stdout.String())
}

func TestRunApp_Errors(t *testing.T) {
	tests := []struct {
		name        string
		args        func(t *testing.T) []string
		stdin       string
		wantErr     error
		wantErrText string
	}{
		{
			name:        "unknown flag",
			args:        func(t *testing.T) []string { return []string{"--unknown"} },
			wantErrText: "unknown flag: --unknown",
		},
		{
			name:        "unknown format",
			args:        func(t *testing.T) []string { return []string{"--format", "xml"} },
			wantErrText: `unknown output format "xml"`,
		},
		{
			name: "unsupported config extension",
			args: func(t *testing.T) []string {
				return []string{"--config", writeConfigFile(t, "config.toml", "")}
			},
			wantErrText: `unsupported config file extension ".toml"`,
		},
		{
			name: "invalid config",
			args: func(t *testing.T) []string {
				return []string{"--config", writeConfigFile(t, "config.yaml", "dispatch:\n  maintenanceInterval: 0s\n")}
			},
			wantErrText: "load config: dispatch: maintenanceInterval should be positive",
		},
		{
			name:    "empty batch",
			args:    func(t *testing.T) []string { return nil },
			stdin:   "[]",
			wantErr: errNoCredentials,
		},
		{
			name:        "credential without provider",
			args:        func(t *testing.T) []string { return nil },
			stdin:       `[{"secret": "` + goodKey + `"}]`,
			wantErrText: "read credentials: credential #0 (sk-g...0000): provider should be set",
		},
		{
			name:        "malformed credentials",
			args:        func(t *testing.T) []string { return nil },
			stdin:       `{"secret": [}`,
			wantErrText: "read credentials: decode credentials: ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runApp(context.Background(), tt.args(t), strings.NewReader(tt.stdin), &bytes.Buffer{})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.ErrorContains(t, err, tt.wantErrText)
		})
	}
}

func TestRunner_StatusAPI(t *testing.T) {
	server := newFakeOpenAI(t)
	cfg := engine.NewDefaultConfig()
	cfg.Dispatch.BaseURLs = map[string]string{"openai": server.URL}
	eng, err := engine.New(cfg, engine.Opts{})
	require.NoError(t, err)
	defer eng.Close()

	r := newRunner(eng, []probe.Credential{
		{Secret: goodKey, Provider: "openai", Model: "good"},
		{Secret: badKey, Provider: "openai", Model: "bad"},
	}, logtest.NewRecorder())
	router := httpserver.NewRouter(logtest.NewRecorder(), httpserver.RouterOpts{
		APIRoutes:   map[httpserver.APIVersion]httpserver.APIRoute{1: r.statusRoutes},
		HealthCheck: r.healthCheck,
	})
	get := func(path string) *httptest.ResponseRecorder {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		return resp
	}

	testutil.RequireErrorInRecorder(t, get("/api/v1/run"), http.StatusNotFound, httpserver.ErrorDomain, httpserver.ErrCodeNotFound)
	testutil.RequireJSONInRecorder(t, get("/api/v1/controller"),
		&controllerResponse{Limit: 5}, &controllerResponse{})

	require.NoError(t, r.Run(context.Background()))
	require.NoError(t, r.runErr())

	h := r.handle.Load()
	require.NotNil(t, h)
	testutil.RequireJSONInRecorder(t, get("/api/v1/run"), &runStatusResponse{
		Run:      h.ID(),
		Finished: true,
		Summary:  engine.Summary{Total: 2, Valid: 1, Invalid: 1},
	}, &runStatusResponse{})

	resp := get("/healthz")
	require.Equal(t, http.StatusOK, resp.Code)

	h.Cancel()
	resp = get("/healthz")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)

	rep := r.report()
	require.Equal(t, h.ID(), rep.Run)
	require.Len(t, rep.Results, 2)
}

func TestRunner_EngineClosed(t *testing.T) {
	eng, err := engine.New(engine.NewDefaultConfig(), engine.Opts{})
	require.NoError(t, err)
	eng.Close()

	r := newRunner(eng, []probe.Credential{{Secret: goodKey, Provider: "openai"}}, logtest.NewRecorder())
	require.NoError(t, r.Run(context.Background()))
	require.ErrorIs(t, r.runErr(), engine.ErrClosed)
	require.Empty(t, r.report().Run)
}
