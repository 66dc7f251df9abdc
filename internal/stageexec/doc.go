// Package stageexec runs a single pipeline stage for a project run: it looks
// up the registered worker, applies the per-stage timeout and retry policy,
// keeps the run's heartbeat fresh, and commits the worker's result together
// with the advance to the next stage.
package stageexec
