package stageexec

import (
	"context"
	"log/slog"
	"time"

	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/services"
)

// Event describes one lifecycle moment of a stage or run.
type Event struct {
	ProjectID   string
	RunID       string
	OwnerID     string
	Title       string
	Pages       int
	Stage       project.Stage
	Attempt     int
	MaxAttempts int
	Duration    time.Duration
	// Retrying is set on a failed attempt that will be tried again.
	Retrying bool
	Err      error
	Reason   string
}

// Hook observes stage attempts and run outcomes. Hooks run synchronously on
// the run goroutine and must not block for long.
type Hook interface {
	OnAttemptStart(ctx context.Context, ev Event)
	OnAttemptFailed(ctx context.Context, ev Event)
	OnStageComplete(ctx context.Context, ev Event)
	OnStageFailed(ctx context.Context, ev Event)
	OnRunComplete(ctx context.Context, ev Event)
	OnRunFailed(ctx context.Context, ev Event)
	OnCancel(ctx context.Context, ev Event)
}

// HookFuncs implements Hook with optional callbacks.
type HookFuncs struct {
	AttemptStart  func(context.Context, Event)
	AttemptFailed func(context.Context, Event)
	StageComplete func(context.Context, Event)
	StageFailed   func(context.Context, Event)
	RunComplete   func(context.Context, Event)
	RunFailed     func(context.Context, Event)
	Cancel        func(context.Context, Event)
}

func (h HookFuncs) OnAttemptStart(ctx context.Context, ev Event)  { call(h.AttemptStart, ctx, ev) }
func (h HookFuncs) OnAttemptFailed(ctx context.Context, ev Event) { call(h.AttemptFailed, ctx, ev) }
func (h HookFuncs) OnStageComplete(ctx context.Context, ev Event) { call(h.StageComplete, ctx, ev) }
func (h HookFuncs) OnStageFailed(ctx context.Context, ev Event)   { call(h.StageFailed, ctx, ev) }
func (h HookFuncs) OnRunComplete(ctx context.Context, ev Event)   { call(h.RunComplete, ctx, ev) }
func (h HookFuncs) OnRunFailed(ctx context.Context, ev Event)     { call(h.RunFailed, ctx, ev) }
func (h HookFuncs) OnCancel(ctx context.Context, ev Event)        { call(h.Cancel, ctx, ev) }

func call(fn func(context.Context, Event), ctx context.Context, ev Event) {
	if fn != nil {
		fn(ctx, ev)
	}
}

// Hooks fans every callback out to each member in order.
type Hooks []Hook

func (hs Hooks) OnAttemptStart(ctx context.Context, ev Event) {
	for _, h := range hs {
		h.OnAttemptStart(ctx, ev)
	}
}

func (hs Hooks) OnAttemptFailed(ctx context.Context, ev Event) {
	for _, h := range hs {
		h.OnAttemptFailed(ctx, ev)
	}
}

func (hs Hooks) OnStageComplete(ctx context.Context, ev Event) {
	for _, h := range hs {
		h.OnStageComplete(ctx, ev)
	}
}

func (hs Hooks) OnStageFailed(ctx context.Context, ev Event) {
	for _, h := range hs {
		h.OnStageFailed(ctx, ev)
	}
}

func (hs Hooks) OnRunComplete(ctx context.Context, ev Event) {
	for _, h := range hs {
		h.OnRunComplete(ctx, ev)
	}
}

func (hs Hooks) OnRunFailed(ctx context.Context, ev Event) {
	for _, h := range hs {
		h.OnRunFailed(ctx, ev)
	}
}

func (hs Hooks) OnCancel(ctx context.Context, ev Event) {
	for _, h := range hs {
		h.OnCancel(ctx, ev)
	}
}

// LoggingHook records every attempt and outcome on logger.
func LoggingHook(logger *slog.Logger) Hook {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "stageexec")
	with := func(ctx context.Context, ev Event) *slog.Logger {
		l := logging.WithContext(ctx, logger)
		if _, ok := services.ProjectIDFromContext(ctx); !ok && ev.ProjectID != "" {
			l = l.With(logging.String(logging.FieldProjectID, ev.ProjectID))
		}
		if _, ok := services.RunIDFromContext(ctx); !ok && ev.RunID != "" {
			l = l.With(logging.String(logging.FieldRunID, ev.RunID))
		}
		if _, ok := services.StageFromContext(ctx); !ok && ev.Stage != "" {
			l = l.With(logging.String(logging.FieldStage, string(ev.Stage)))
		}
		return l
	}
	return HookFuncs{
		AttemptStart: func(ctx context.Context, ev Event) {
			with(ctx, ev).Info("stage attempt started",
				logging.String(logging.FieldEventType, "stage_start"),
				logging.Int(logging.FieldAttempt, ev.Attempt),
				logging.Int("max_attempts", ev.MaxAttempts),
			)
		},
		AttemptFailed: func(ctx context.Context, ev Event) {
			attrs := append([]logging.Attr{
				logging.String(logging.FieldEventType, "stage_attempt_failed"),
				logging.Int(logging.FieldAttempt, ev.Attempt),
				logging.Bool("retrying", ev.Retrying),
				logging.Duration("attempt_duration", ev.Duration),
			}, logging.ErrorDetails(ev.Err)...)
			with(ctx, ev).Warn("stage attempt failed", logging.Args(attrs...)...)
		},
		StageComplete: func(ctx context.Context, ev Event) {
			with(ctx, ev).Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.Int(logging.FieldAttempt, ev.Attempt),
				logging.Duration("stage_duration", ev.Duration),
			)
		},
		StageFailed: func(ctx context.Context, ev Event) {
			attrs := append([]logging.Attr{
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.Int(logging.FieldAttempt, ev.Attempt),
			}, logging.ErrorDetails(ev.Err)...)
			with(ctx, ev).Error("stage failed", logging.Args(attrs...)...)
		},
		RunComplete: func(ctx context.Context, ev Event) {
			with(ctx, ev).Info("run completed",
				logging.String(logging.FieldEventType, "run_complete"),
				logging.Duration("run_duration", ev.Duration),
			)
		},
		RunFailed: func(ctx context.Context, ev Event) {
			with(ctx, ev).Error("run failed",
				logging.String(logging.FieldEventType, "run_failed"),
				logging.String("reason", ev.Reason),
			)
		},
		Cancel: func(ctx context.Context, ev Event) {
			with(ctx, ev).Info("run aborted",
				logging.String(logging.FieldEventType, "run_aborted"),
				logging.String("reason", ev.Reason),
			)
		},
	}
}
