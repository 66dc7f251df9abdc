package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"comicforge/internal/config"
	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/services"
	"comicforge/internal/stageexec"
)

// StartRequest asks for a new run. A non-empty ProjectID restarts that failed
// project as a new run; otherwise a project is created.
type StartRequest struct {
	OwnerID    string
	ProjectID  string
	Brief      project.Brief
	TotalPages int
}

// Handle identifies a started run.
type Handle struct {
	ProjectID   string
	RunID       string
	AccessToken string
	TotalPages  int
}

// Orchestrator sequences stages for every active run.
type Orchestrator struct {
	store    *project.Store
	exec     *stageexec.Executor
	hooks    stageexec.Hooks
	logger   *slog.Logger
	minPages int
	maxPages int
	stale    time.Duration

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	runs   map[string]string // project id -> run id owned by a goroutine
	closed bool
	wg     sync.WaitGroup
}

// New builds an orchestrator. Runs are driven from an internal base context
// that only Shutdown cancels.
func New(cfg *config.Config, store *project.Store, exec *stageexec.Executor, logger *slog.Logger) *Orchestrator {
	base, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:    store,
		exec:     exec,
		hooks:    exec.Hooks(),
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		minPages: 1,
		maxPages: 16,
		base:     base,
		cancel:   cancel,
		runs:     make(map[string]string),
	}
	if cfg != nil {
		o.minPages = cfg.Pipeline.MinPages
		o.maxPages = cfg.Pipeline.MaxPages
		o.stale = time.Duration(cfg.Pipeline.HeartbeatTimeout) * time.Second
	}
	return o
}

// Validate checks a start request without touching the store.
func (o *Orchestrator) Validate(req StartRequest) error {
	var problems []string
	if strings.TrimSpace(req.OwnerID) == "" {
		problems = append(problems, "owner is required")
	}
	// A restart reruns the stored brief; any brief on the request is ignored.
	if strings.TrimSpace(req.ProjectID) != "" {
		return joinProblems(problems)
	}
	if strings.TrimSpace(req.Brief.Synopsis) == "" {
		problems = append(problems, "story description is required")
	}
	if strings.TrimSpace(req.Brief.ArtStyle) == "" {
		problems = append(problems, "art style is required")
	}
	if req.TotalPages < o.minPages || req.TotalPages > o.maxPages {
		problems = append(problems, fmt.Sprintf("page count must be between %d and %d", o.minPages, o.maxPages))
	}
	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrValidation, "pipeline", "start", strings.Join(problems, "; "), nil)
}

// Start creates (or restarts) a project run and launches it in the
// background. It returns as soon as the run is persisted.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (Handle, error) {
	if err := o.Validate(req); err != nil {
		return Handle{}, err
	}
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return Handle{}, services.Wrap(services.ErrInternal, "pipeline", "start", "orchestrator is shutting down", nil)
	}

	var (
		p   *project.Project
		err error
	)
	if req.ProjectID == "" {
		p, err = o.store.CreateProject(ctx, project.NewProject{
			OwnerID:    req.OwnerID,
			Brief:      req.Brief,
			TotalPages: req.TotalPages,
		})
	} else {
		p, err = o.store.BeginRun(ctx, req.ProjectID, req.OwnerID)
	}
	if err != nil {
		return Handle{}, err
	}
	if p == nil {
		return Handle{}, services.Wrap(services.ErrInternal, "pipeline", "start", "project vanished after creation", nil)
	}

	o.launch(p.ID, p.RunID)
	o.logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String(logging.FieldProjectID, p.ID),
		logging.String(logging.FieldRunID, p.RunID),
		logging.Int("total_pages", p.TotalPages),
		logging.Bool("restart", req.ProjectID != ""),
	)
	return Handle{ProjectID: p.ID, RunID: p.RunID, AccessToken: p.AccessToken, TotalPages: p.TotalPages}, nil
}

// launch starts the run goroutine unless one already drives this run.
func (o *Orchestrator) launch(projectID, runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.runs[projectID] == runID {
		return false
	}
	o.runs[projectID] = runID
	o.wg.Add(1)
	go o.drive(projectID, runID)
	return true
}

func (o *Orchestrator) release(projectID, runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs[projectID] == runID {
		delete(o.runs, projectID)
	}
}

func (o *Orchestrator) drive(projectID, runID string) {
	defer o.wg.Done()
	defer o.release(projectID, runID)

	ctx := services.WithRunID(services.WithProjectID(o.base, projectID), runID)
	logger := logging.WithContext(ctx, o.logger)
	started := time.Now()

	for {
		done, err := o.advance(ctx, projectID, runID, started)
		if done {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("run interrupted by shutdown; it resumes on next start",
					logging.String(logging.FieldEventType, "run_interrupted"))
				return
			}
			o.fail(ctx, projectID, runID, err)
			return
		}
	}
}

// advance performs one step of the run. It reports done when the run reached
// a terminal state or no longer owns the project.
func (o *Orchestrator) advance(ctx context.Context, projectID, runID string, started time.Time) (bool, error) {
	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	if p == nil || p.RunID != runID {
		return true, nil
	}

	switch p.Stage {
	case project.StageComplete:
		o.hooks.OnRunComplete(ctx, stageexec.Event{
			ProjectID: p.ID,
			RunID:     runID,
			OwnerID:   p.OwnerID,
			Title:     p.Title,
			Pages:     p.TotalPages,
			Stage:     p.Stage,
			Duration:  time.Since(started),
		})
		return true, nil
	case project.StageFailed:
		return true, nil
	case project.StageQueued:
		first := project.WorkerStages()[0]
		if err := o.store.Advance(ctx, projectID, runID, project.StageQueued, first); err != nil {
			if errors.Is(err, project.ErrStaleRun) {
				return true, nil
			}
			return false, err
		}
		return false, nil
	}

	err = o.exec.Run(ctx, projectID, runID, p.Stage)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, stageexec.ErrRunAborted):
		return true, nil
	default:
		return false, err
	}
}

func (o *Orchestrator) fail(ctx context.Context, projectID, runID string, cause error) {
	reason := strings.TrimSpace(services.Details(cause).Message)
	if reason == "" {
		reason = strings.TrimSpace(cause.Error())
	}
	prev, changed, err := o.store.Fail(ctx, projectID, runID, reason)
	if err != nil {
		o.logger.Error("failed to persist run failure",
			logging.String(logging.FieldProjectID, projectID),
			logging.Error(err),
		)
		return
	}
	if !changed {
		return
	}
	ev := stageexec.Event{ProjectID: projectID, RunID: runID, Stage: prev, Err: cause, Reason: reason}
	if p, _ := o.store.GetProject(ctx, projectID); p != nil {
		ev.OwnerID = p.OwnerID
		ev.Title = p.Title
	}
	o.hooks.OnRunFailed(ctx, ev)
}

// Abort fails the project's active run with reason. Aborting a terminal
// project is a no-op. A stage already in flight finishes, but its result is
// discarded.
func (o *Orchestrator) Abort(ctx context.Context, projectID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "aborted"
	}
	prev, changed, err := o.store.Abort(ctx, projectID, reason)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	ev := stageexec.Event{ProjectID: projectID, Stage: prev, Reason: reason}
	if p, _ := o.store.GetProject(ctx, projectID); p != nil {
		ev.RunID = p.RunID
		ev.OwnerID = p.OwnerID
		ev.Title = p.Title
	}
	o.hooks.OnCancel(ctx, ev)
	return nil
}

// Resume relaunches every project left active by a previous process. Stages
// are idempotent, so the interrupted stage simply runs again.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	active, err := o.store.ActiveProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active projects: %w", err)
	}
	return o.relaunch(active, "run resumed"), nil
}

// ReclaimStale relaunches active projects whose heartbeat went quiet and that
// no goroutine in this process drives.
func (o *Orchestrator) ReclaimStale(ctx context.Context) (int, error) {
	if o.stale <= 0 {
		return 0, nil
	}
	stale, err := o.store.StaleProjects(ctx, time.Now().Add(-o.stale))
	if err != nil {
		return 0, fmt.Errorf("list stale projects: %w", err)
	}
	return o.relaunch(stale, "stale run reclaimed"), nil
}

func (o *Orchestrator) relaunch(projects []*project.Project, message string) int {
	count := 0
	for _, p := range projects {
		o.mu.Lock()
		_, driven := o.runs[p.ID]
		o.mu.Unlock()
		if driven {
			continue
		}
		if o.launch(p.ID, p.RunID) {
			count++
			o.logger.Info(message,
				logging.String(logging.FieldEventType, "run_resume"),
				logging.String(logging.FieldProjectID, p.ID),
				logging.String(logging.FieldRunID, p.RunID),
				logging.String(logging.FieldStage, string(p.Stage)),
			)
		}
	}
	return count
}

// ActiveRuns returns the number of runs driven by this process.
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

// Wait blocks until every launched run goroutine has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting runs, cancels in-flight stages, and waits for the
// run goroutines until ctx ends. Interrupted projects stay active.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
