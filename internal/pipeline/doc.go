// Package pipeline owns the fixed stage sequence of a comic generation run.
//
// The Orchestrator creates or restarts a project run, drives it through the
// stages on a goroutine detached from the caller, and handles abort, resume
// after a restart, and shutdown. Stage execution itself is delegated to the
// stageexec.Executor; every transition is persisted before the next stage
// starts, so the database always reflects how far a run got.
package pipeline
