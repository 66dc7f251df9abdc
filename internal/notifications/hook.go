package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"comicforge/internal/logging"
	"comicforge/internal/stageexec"
)

// Hook announces run outcomes through a Service. Deliveries happen on their
// own goroutine so a slow ntfy server never holds up a run; Wait drains them.
type Hook struct {
	svc    Service
	logger *slog.Logger
	wg     sync.WaitGroup
}

var _ stageexec.Hook = (*Hook)(nil)

// NewHook adapts svc to the executor's lifecycle hooks.
func NewHook(svc Service, logger *slog.Logger) *Hook {
	if svc == nil {
		svc = noopService{}
	}
	return &Hook{svc: svc, logger: logging.NewComponentLogger(logger, "notifications")}
}

func (h *Hook) OnAttemptStart(context.Context, stageexec.Event)  {}
func (h *Hook) OnAttemptFailed(context.Context, stageexec.Event) {}
func (h *Hook) OnStageComplete(context.Context, stageexec.Event) {}
func (h *Hook) OnStageFailed(context.Context, stageexec.Event)   {}

func (h *Hook) OnRunComplete(ctx context.Context, ev stageexec.Event) {
	h.deliver(ctx, ev, "run_completed", func(ctx context.Context) error {
		return h.svc.NotifyRunCompleted(ctx, ev.Title, ev.Pages, ev.Duration)
	})
}

func (h *Hook) OnRunFailed(ctx context.Context, ev stageexec.Event) {
	h.deliver(ctx, ev, "run_failed", func(ctx context.Context) error {
		return h.svc.NotifyRunFailed(ctx, ev.Title, string(ev.Stage), ev.Reason)
	})
}

func (h *Hook) OnCancel(ctx context.Context, ev stageexec.Event) {
	h.deliver(ctx, ev, "run_aborted", func(ctx context.Context) error {
		return h.svc.NotifyRunAborted(ctx, ev.Title, ev.Reason)
	})
}

// deliver detaches from the run's context: a notification about a cancelled
// run must still go out.
func (h *Hook) deliver(ctx context.Context, ev stageexec.Event, event string, send func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		sendCtx, cancel := context.WithTimeout(detached, 30*time.Second)
		defer cancel()
		if err := send(sendCtx); err != nil {
			logging.WarnWithContext(h.logger, "notification failed", "notification_failed",
				logging.String(logging.FieldProjectID, ev.ProjectID),
				logging.String("notification", event),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check ntfy_topic and network reachability"),
				logging.String(logging.FieldImpact, "run outcome was not pushed"),
			)
		}
	}()
}

// Wait blocks until every pending delivery has finished.
func (h *Hook) Wait() {
	h.wg.Wait()
}
