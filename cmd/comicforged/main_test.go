package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"comicforge/internal/config"
	"comicforge/internal/preflight"
	"comicforge/internal/project"
	"comicforge/internal/stage"
	"comicforge/internal/testsupport"
)

type idleWorker struct {
	st project.Stage
}

func (w idleWorker) Stage() project.Stage { return w.st }

func (w idleWorker) Run(context.Context, stage.Input, stage.Reporter) (stage.Result, error) {
	return stage.Result{}, nil
}

func (w idleWorker) HealthCheck(context.Context) stage.Health { return stage.Healthy(string(w.st)) }

func idleWorkers(*config.Config, *slog.Logger) ([]stage.Worker, error) {
	var out []stage.Worker
	for _, st := range project.WorkerStages() {
		out = append(out, idleWorker{st: st})
	}
	return out, nil
}

func TestAssembleWiresEveryStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := assemble(cfg, slog.New(slog.DiscardHandler), idleWorkers)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer d.Close()

	if d.Orchestrator() == nil {
		t.Fatal("expected orchestrator")
	}
	status := d.Status(context.Background())
	if status.Running {
		t.Fatal("daemon should not run before Start")
	}
	if len(status.StageHealth) != len(project.WorkerStages()) {
		t.Fatalf("expected health for %d stages, got %d", len(project.WorkerStages()), len(status.StageHealth))
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("unexpected database path %q", status.DatabasePath)
	}
}

func TestAssembleReportsWorkerErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	boom := func(*config.Config, *slog.Logger) ([]stage.Worker, error) {
		return nil, errors.New("boom")
	}
	_, err := assemble(cfg, slog.New(slog.DiscardHandler), boom)
	if err == nil || !strings.Contains(err.Error(), "build stage workers: boom") {
		t.Fatalf("expected worker error, got %v", err)
	}
}

func TestReportPreflightLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	reportPreflight(logger, []preflight.Result{
		{Name: "Data directory", Passed: true, Detail: "/tmp"},
		{Name: "Image generation API", Passed: false, Detail: "api key missing"},
	})

	out := buf.String()
	if !strings.Contains(out, "preflight check failed") || !strings.Contains(out, `check="Image generation API"`) {
		t.Fatalf("expected failed check to be logged, got %q", out)
	}
	if strings.Contains(out, `check="Data directory"`) {
		t.Fatalf("passing checks should not warn: %q", out)
	}
	if !strings.Contains(out, "failed=1") {
		t.Fatalf("expected summary, got %q", out)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server]\nbind = \"no-port\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	err := run(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config error, got %v", err)
	}
}
