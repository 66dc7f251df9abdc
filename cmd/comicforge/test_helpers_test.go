package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"comicforge/internal/config"
	"comicforge/internal/daemon"
	"comicforge/internal/project"
	"comicforge/internal/stage"
	"comicforge/internal/testsupport"
)

const (
	aliceToken = "tok-alice"
	bobToken   = "tok-bob"
)

type noopWorker struct {
	st project.Stage
}

func (w noopWorker) Stage() project.Stage { return w.st }

func (w noopWorker) Run(context.Context, stage.Input, stage.Reporter) (stage.Result, error) {
	return stage.Result{Output: map[string]string{"stage": string(w.st)}}, nil
}

func (w noopWorker) HealthCheck(context.Context) stage.Health { return stage.Healthy(string(w.st)) }

type cliTestEnv struct {
	cfg        *config.Config
	store      *project.Store
	daemon     *daemon.Daemon
	url        string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t,
		testsupport.WithToken(aliceToken, "alice"),
		testsupport.WithToken(bobToken, "bob"),
	)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "comicforge.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	var workers []stage.Worker
	for _, st := range project.WorkerStages() {
		workers = append(workers, noopWorker{st: st})
	}
	d, err := daemon.New(cfg, store, nil, workers)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Stop()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		url:        d.Addr(),
		configPath: configPath,
	}
}

// run executes the CLI against the test daemon as the given token.
func (e *cliTestEnv) run(t *testing.T, token string, args ...string) (string, error) {
	t.Helper()
	flags := []string{"--config", e.configPath, "--url", e.url, "--token", token}
	out, _, err := runCLI(t, append(flags, args...))
	return out, err
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\n\n[server]\nbind = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Server.Bind,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
