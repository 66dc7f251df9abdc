package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"comicforge/internal/config"
	"comicforge/internal/daemon"
	"comicforge/internal/logging"
	"comicforge/internal/preflight"
	"comicforge/internal/project"
	"comicforge/internal/stage"
	"comicforge/internal/workers"
)

type workerFactory func(*config.Config, *slog.Logger) ([]stage.Worker, error)

func run(ctx context.Context, configPath string) error {
	cfg, path, exists, err := config.Load(strings.TrimSpace(configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("configuration loaded",
		logging.String("config_path", path),
		logging.Bool("config_exists", exists),
	)
	for _, warning := range cfg.Warnings() {
		logging.WarnWithContext(logger, "configuration warning", "config_warning",
			logging.String("detail", warning),
			logging.String(logging.FieldErrorHint, "run `comicforge config validate` after editing the config"),
		)
	}

	d, err := assemble(cfg, logger, workers.New)
	if err != nil {
		return err
	}
	defer d.Close()

	reportPreflight(logger, preflight.RunAll(ctx, cfg))

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	logger.Info("comicforged listening", logging.String("addr", d.Addr()))

	<-ctx.Done()
	logger.Info("comicforged shutting down")
	return nil
}

// assemble opens the store and wires the stage workers into a daemon. The
// daemon owns the store from here on.
func assemble(cfg *config.Config, logger *slog.Logger, build workerFactory) (*daemon.Daemon, error) {
	store, err := project.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}
	stageWorkers, err := build(cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build stage workers: %w", err)
	}
	d, err := daemon.New(cfg, store, logger, stageWorkers)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func reportPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, result := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "runs depending on this check will fail"),
		)
	}
	if len(results) > 0 {
		logger.Info("preflight complete",
			logging.Int("checks", len(results)),
			logging.Int("failed", len(preflight.Failed(results))),
		)
	}
}
