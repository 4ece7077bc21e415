package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mediaconv/internal/api"
	"mediaconv/internal/config"
	"mediaconv/internal/encoding"
	"mediaconv/internal/logging"
	"mediaconv/internal/queue"
	"mediaconv/internal/testsupport"
	"mediaconv/internal/thumbnail"
	"mediaconv/internal/workflow"
)

// offlineAPI points the CLI at a port nothing listens on so commands use the
// queue database directly.
const offlineAPI = "127.0.0.1:1"

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	api        string
	hub        *logging.StreamHub
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, api: offlineAPI}
}

// withDaemonAPI serves the HTTP API for env over httptest and points the CLI
// at it. Items never start converting because the manager is not started.
func (env *cliTestEnv) withDaemonAPI(t *testing.T, store *queue.Store) {
	t.Helper()
	env.hub = logging.NewStreamHub(64)
	mgr := workflow.NewManager(env.cfg, store, idleConverter{}, nil)
	router := api.NewRouter(api.Options{
		Token:      env.cfg.Paths.APIToken,
		Manager:    mgr,
		Queue:      store,
		Thumbnails: echoThumbs{},
		Logs:       env.hub,
		Status: func(ctx context.Context) api.DaemonStatus {
			return api.DaemonStatus{Running: true, PID: 4242, Workflow: api.FromStatusSummary(mgr.Status(ctx))}
		},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	env.api = srv.URL
}

type idleConverter struct{}

func (idleConverter) Execute(context.Context, *queue.Item, encoding.ProgressSink) (encoding.Outcome, error) {
	return encoding.Succeeded(1), nil
}

type echoThumbs struct{}

func (echoThumbs) Get(_ context.Context, key thumbnail.Key) (*bytes.Reader, error) {
	return bytes.NewReader([]byte("jpeg:" + filepath.Base(key.Path))), nil
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, env.api, env.configPath)
}

func runCLI(t *testing.T, args []string, apiAddr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--api", apiAddr}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func logLine(msg, itemID string) logging.LogEvent {
	return logging.LogEvent{Level: "info", Message: msg, Component: "processor", ItemID: itemID}
}
