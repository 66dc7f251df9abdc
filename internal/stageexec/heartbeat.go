package stageexec

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"comicforge/internal/logging"
)

type heartbeatWriter interface {
	UpdateHeartbeat(ctx context.Context, projectID, runID string) error
}

// startHeartbeat refreshes the run heartbeat every interval until the returned
// stop function is called.
func startHeartbeat(ctx context.Context, store heartbeatWriter, logger *slog.Logger, interval time.Duration, projectID, runID string) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := store.UpdateHeartbeat(hbCtx, projectID, runID); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
