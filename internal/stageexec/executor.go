package stageexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"comicforge/internal/logging"
	"comicforge/internal/progress"
	"comicforge/internal/project"
	"comicforge/internal/services"
	"comicforge/internal/stage"
)

// Store is the persistence the executor needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
	StageOutputs(ctx context.Context, projectID string) (map[project.Stage]project.StageOutput, error)
	Characters(ctx context.Context, projectID string) ([]project.Character, error)
	Pages(ctx context.Context, projectID string) ([]project.Page, error)
	Panels(ctx context.Context, projectID string) ([]project.Panel, error)
	CompleteStage(ctx context.Context, c project.Completion) error
	SetProgress(ctx context.Context, projectID, runID string, st project.Stage, group project.Group, value int) error
	UpdateHeartbeat(ctx context.Context, projectID, runID string) error
}

// Options configures an Executor.
type Options struct {
	Store   Store
	Workers []stage.Worker
	Policy  RetryPolicy
	// StageTimeout returns the budget of one attempt; nil or zero means none.
	StageTimeout      func(project.Stage) time.Duration
	HeartbeatInterval time.Duration
	Hooks             []Hook
	Logger            *slog.Logger
	// Sleep waits between attempts. Tests replace it to skip backoff.
	Sleep func(ctx context.Context, d time.Duration) error
	// Random feeds backoff jitter.
	Random func() float64
}

// Executor runs one stage at a time for a project run.
type Executor struct {
	store        Store
	workers      map[project.Stage]stage.Worker
	policy       RetryPolicy
	stageTimeout func(project.Stage) time.Duration
	heartbeat    time.Duration
	hooks        Hooks
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
	random       func() float64
}

// New validates opts and builds an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Store == nil {
		return nil, errors.New("stageexec: store is required")
	}
	workers := make(map[project.Stage]stage.Worker, len(opts.Workers))
	for _, w := range opts.Workers {
		if w == nil {
			continue
		}
		st := w.Stage()
		if !st.IsWorkerStage() {
			return nil, fmt.Errorf("stageexec: worker registered for non-worker stage %q", st)
		}
		if _, dup := workers[st]; dup {
			return nil, fmt.Errorf("stageexec: duplicate worker for stage %s", st)
		}
		workers[st] = w
	}
	e := &Executor{
		store:        opts.Store,
		workers:      workers,
		policy:       opts.Policy,
		stageTimeout: opts.StageTimeout,
		heartbeat:    opts.HeartbeatInterval,
		hooks:        Hooks(opts.Hooks),
		logger:       logging.NewComponentLogger(opts.Logger, "stageexec"),
		sleep:        opts.Sleep,
		random:       opts.Random,
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.random == nil {
		e.random = rand.Float64
	}
	return e, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hooks returns the hooks the executor notifies, for run-level events raised
// by the orchestrator.
func (e *Executor) Hooks() Hooks {
	return e.hooks
}

// Health reports the readiness of every stage in sequence order. A stage
// without a registered worker is unhealthy.
func (e *Executor) Health(ctx context.Context) []stage.Health {
	stages := project.WorkerStages()
	out := make([]stage.Health, 0, len(stages))
	for _, st := range stages {
		w, ok := e.workers[st]
		if !ok {
			out = append(out, stage.Unhealthy(string(st), "no worker registered"))
			continue
		}
		out = append(out, w.HealthCheck(ctx))
	}
	return out
}

// Run executes st for the run and commits its result, advancing the project
// to the next stage. It returns ErrRunAborted when the run was aborted or
// superseded, the context error when ctx ends, and a non-retryable
// *StageError when the stage failed for good.
func (e *Executor) Run(ctx context.Context, projectID, runID string, st project.Stage) error {
	worker, ok := e.workers[st]
	if !ok {
		err := services.Wrap(services.ErrConfiguration, string(st), "lookup worker", "no worker registered", nil)
		stageErr := &StageError{Stage: st, Attempts: 0, Err: err}
		e.hooks.OnStageFailed(ctx, Event{ProjectID: projectID, RunID: runID, Stage: st, Err: stageErr})
		return stageErr
	}
	next, ok := project.NextStage(st)
	if !ok {
		return fmt.Errorf("stage %s has no successor", st)
	}

	ctx = services.WithStage(services.WithRunID(services.WithProjectID(ctx, projectID), runID), string(st))
	logger := logging.WithContext(ctx, e.logger)
	attempts := e.policy.Attempts()
	stageStart := time.Now()

	for attempt := 1; attempt <= attempts; attempt++ {
		p, err := e.store.GetProject(ctx, projectID)
		if err != nil {
			return fmt.Errorf("load project: %w", err)
		}
		if p == nil || p.RunID != runID || p.Stage != st {
			return ErrRunAborted
		}
		in, err := e.loadInput(ctx, p)
		if err != nil {
			return err
		}

		ev := Event{ProjectID: projectID, RunID: runID, OwnerID: p.OwnerID, Title: p.Title, Stage: st, Attempt: attempt, MaxAttempts: attempts}
		e.hooks.OnAttemptStart(ctx, ev)

		attemptStart := time.Now()
		result, runErr := e.attempt(ctx, worker, in, logger)
		ev.Duration = time.Since(attemptStart)

		if runErr == nil {
			commitErr := e.commit(ctx, p, st, next, result)
			if commitErr == nil {
				ev.Duration = time.Since(stageStart)
				e.hooks.OnStageComplete(ctx, ev)
				return nil
			}
			if errors.Is(commitErr, project.ErrStaleRun) {
				return ErrRunAborted
			}
			runErr = commitErr
			if !errors.Is(commitErr, services.ErrInternal) {
				runErr = services.Wrap(services.ErrTransient, string(st), "commit", "could not persist stage result", commitErr)
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		retryable := IsRetryable(runErr)
		ev.Retrying = retryable && attempt < attempts
		ev.Err = &StageError{Stage: st, Attempts: attempt, Retryable: retryable, Err: runErr}
		e.hooks.OnAttemptFailed(ctx, ev)

		if !ev.Retrying {
			final := &StageError{Stage: st, Attempts: attempt, Retryable: false, Err: runErr}
			ev.Err = final
			e.hooks.OnStageFailed(ctx, ev)
			return final
		}
		if err := e.sleep(ctx, e.policy.Backoff(attempt, e.random)); err != nil {
			return err
		}
	}
	// Unreachable: the final attempt always returns above.
	return &StageError{Stage: st, Attempts: attempts, Err: errors.New("retries exhausted")}
}

func (e *Executor) loadInput(ctx context.Context, p *project.Project) (stage.Input, error) {
	outputs, err := e.store.StageOutputs(ctx, p.ID)
	if err != nil {
		return stage.Input{}, fmt.Errorf("load stage outputs: %w", err)
	}
	characters, err := e.store.Characters(ctx, p.ID)
	if err != nil {
		return stage.Input{}, fmt.Errorf("load characters: %w", err)
	}
	pages, err := e.store.Pages(ctx, p.ID)
	if err != nil {
		return stage.Input{}, fmt.Errorf("load pages: %w", err)
	}
	panels, err := e.store.Panels(ctx, p.ID)
	if err != nil {
		return stage.Input{}, fmt.Errorf("load panels: %w", err)
	}
	return stage.Input{
		Project: p,
		Prior: stage.Prior{
			Outputs:    outputs,
			Characters: characters,
			Pages:      pages,
			Panels:     panels,
		},
	}, nil
}

// attempt runs the worker once under the stage budget with a heartbeat.
func (e *Executor) attempt(ctx context.Context, worker stage.Worker, in stage.Input, logger *slog.Logger) (result stage.Result, err error) {
	st := worker.Stage()
	attemptCtx := ctx
	if e.stageTimeout != nil {
		if budget := e.stageTimeout(st); budget > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		}
	}

	stop := startHeartbeat(ctx, e.store, logger, e.heartbeat, in.Project.ID, in.Project.RunID)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrInternal, string(st), "run worker", fmt.Sprintf("worker panicked: %v", r), nil)
		}
	}()

	result, err = worker.Run(attemptCtx, in, e.reporter(in.Project, st, logger))
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
		err = services.Wrap(services.ErrTimeout, string(st), "run worker", "stage exceeded its time budget", err)
	}
	return result, err
}

func (e *Executor) reporter(p *project.Project, st project.Stage, logger *slog.Logger) stage.Reporter {
	group, ok := progress.GroupFor(st)
	if !ok {
		return stage.Discard
	}
	var mu sync.Mutex
	sampler := logging.NewProgressSampler(25)
	return stage.ReporterFunc(func(ctx context.Context, percent int) {
		value := progress.GroupValue(st, percent)
		if err := e.store.SetProgress(ctx, p.ID, p.RunID, st, group, value); err != nil {
			logger.Debug("progress update dropped", logging.Error(err))
			return
		}
		mu.Lock()
		emit := sampler.ShouldLog(string(st), percent)
		mu.Unlock()
		if emit {
			logger.Debug("stage progress",
				logging.String(logging.FieldEventType, "stage_progress"),
				logging.Int("stage_percent", project.ClampPercent(percent)),
				logging.Int("group_value", value),
			)
		}
	})
}

func (e *Executor) commit(ctx context.Context, p *project.Project, st, next project.Stage, result stage.Result) error {
	payload := "{}"
	if result.Output != nil {
		data, err := json.Marshal(result.Output)
		if err != nil {
			return services.Wrap(services.ErrInternal, string(st), "encode output", "stage output is not serializable", err)
		}
		payload = string(data)
	}
	group, _ := progress.GroupFor(st)
	return e.store.CompleteStage(ctx, project.Completion{
		ProjectID:     p.ID,
		RunID:         p.RunID,
		Stage:         st,
		Next:          next,
		Group:         group,
		GroupValue:    progress.Completed(st),
		Output:        payload,
		Title:         result.Title,
		StoryAnalysis: result.StoryAnalysis,
		Script:        result.Script,
		Characters:    result.Characters,
		Pages:         result.Pages,
		Panels:        result.Panels,
		Replace:       result.Replace,
	})
}
