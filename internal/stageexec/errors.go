package stageexec

import (
	"context"
	"errors"
	"fmt"

	"comicforge/internal/project"
	"comicforge/internal/services"
)

// ErrRunAborted reports that the run was aborted or superseded while the
// stage was executing. Any result the stage produced was discarded.
var ErrRunAborted = errors.New("run aborted")

// StageError describes a stage attempt failure.
type StageError struct {
	Stage     project.Stage
	Attempts  int
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("stage %s attempt %d: %v", e.Stage, e.Attempts, e.Err)
	}
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt. Worker errors
// marked transient and per-stage deadlines are retryable; everything else,
// including unrecognized errors, is fatal.
func IsRetryable(err error) bool {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return services.IsRetryable(err)
}
