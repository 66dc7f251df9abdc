package project

import (
	"errors"

	"comicforge/internal/services"
)

// ErrStaleRun reports a write rejected because the project is no longer in
// the expected stage of the expected run. The run was aborted, superseded,
// or has already moved on.
var ErrStaleRun = errors.New("stale run")

func notFound(operation, projectID string) error {
	return services.Wrap(services.ErrNotFound, "project", operation, "project "+projectID+" not found", nil)
}

func conflict(operation, message string) error {
	return services.Wrap(services.ErrConflict, "project", operation, message, nil)
}
