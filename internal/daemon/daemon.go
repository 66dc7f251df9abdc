package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"comicforge/internal/api"
	"comicforge/internal/auth"
	"comicforge/internal/config"
	"comicforge/internal/logging"
	"comicforge/internal/notifications"
	"comicforge/internal/pipeline"
	"comicforge/internal/project"
	"comicforge/internal/server"
	"comicforge/internal/stage"
	"comicforge/internal/stageexec"
)

const shutdownGrace = 30 * time.Second

// Daemon coordinates the background pipeline and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *project.Store
	exec     *stageexec.Executor
	orch     *pipeline.Orchestrator
	notifier *notifications.Hook
	api      *server.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
}

// New constructs a daemon around the given stage workers.
func New(cfg *config.Config, store *project.Store, logger *slog.Logger, workers []stage.Worker) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewHook(notifications.NewService(cfg), logger)
	stageTimeout := func(st project.Stage) time.Duration {
		return cfg.StageTimeout(string(st))
	}
	exec, err := stageexec.New(stageexec.Options{
		Store:             store,
		Workers:           workers,
		Policy:            stageexec.PolicyFromConfig(cfg),
		StageTimeout:      stageTimeout,
		HeartbeatInterval: time.Duration(cfg.Pipeline.HeartbeatInterval) * time.Second,
		Hooks:             []stageexec.Hook{stageexec.LoggingHook(logger), notifier},
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build stage executor: %w", err)
	}
	orch := pipeline.New(cfg, store, exec, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		exec:     exec,
		orch:     orch,
		notifier: notifier,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	owners := auth.StoreOwnership{Projects: store}
	opts := server.OptionsFrom(cfg)
	opts.Identity = auth.NewTokenProvider(cfg, store)
	opts.Owners = owners
	opts.Runner = orch
	opts.Projections = api.NewService(store, owners, cfg.Server.PreviewPages)
	opts.Status = d
	opts.Logger = logger
	srv, err := server.New(opts)
	if err != nil {
		return nil, fmt.Errorf("build api server: %w", err)
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, starts the API server, resumes interrupted
// runs, and begins reclaiming stale ones. A daemon starts at most once.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.started.Load() {
		return errors.New("daemon cannot be restarted; construct a new one")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another comicforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}
	d.cancel = cancel
	d.started.Store(true)
	d.running.Store(true)

	resumed, err := d.orch.Resume(runCtx)
	if err != nil {
		logging.WarnWithContext(d.logger, "resume of active runs failed", "resume_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the reclaim loop retries stale runs"),
			logging.String(logging.FieldImpact, "interrupted runs wait for reclaim"),
		)
	}

	d.loops.Add(1)
	go d.reclaimLoop(runCtx)

	d.logger.Info("comicforge daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.Addr()),
		logging.Int("resumed_runs", resumed),
	)
	return nil
}

func (d *Daemon) reclaimInterval() time.Duration {
	timeout := time.Duration(d.cfg.Pipeline.HeartbeatTimeout) * time.Second
	if timeout <= 0 {
		return 0
	}
	interval := timeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (d *Daemon) reclaimLoop(ctx context.Context) {
	defer d.loops.Done()
	interval := d.reclaimInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.orch.ReclaimStale(ctx)
			if err != nil && ctx.Err() == nil {
				logging.WarnWithContext(d.logger, "stale run reclaim failed", "reclaim_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "stale runs stay parked until the next tick"),
				)
				continue
			}
			if n > 0 {
				d.logger.Info("reclaimed stale runs",
					logging.String(logging.FieldEventType, "runs_reclaimed"),
					logging.Int("count", n),
				)
			}
		}
	}
}

// Stop stops the API server and the pipeline and releases the daemon lock.
// Runs interrupted here stay active and resume on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.Stop()
	d.loops.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := d.orch.Shutdown(ctx); err != nil {
		logging.WarnWithContext(d.logger, "pipeline shutdown timed out", "shutdown_timeout",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some stage goroutines were still running at exit"),
		)
	}
	d.notifier.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("comicforge daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the address the API server listens on.
func (d *Daemon) Addr() string {
	return d.api.Addr()
}

// Orchestrator exposes the run orchestrator, for in-process callers.
func (d *Daemon) Orchestrator() *pipeline.Orchestrator {
	return d.orch
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := notifications.NewService(d.cfg).TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		ActiveRuns:   d.orch.ActiveRuns(),
		StageCounts:  make(map[string]int),
		StageHealth:  []api.StageHealth{},
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.Total = stats.Total
		for st, count := range stats.ByStage {
			status.StageCounts[string(st)] = count
		}
	} else {
		d.logger.Warn("project stats unavailable", logging.Error(err))
	}
	for _, h := range d.exec.Health(ctx) {
		status.StageHealth = append(status.StageHealth, api.StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return status
}
