// Package project persists comic projects and the entities each pipeline
// stage produces.
//
// The SQLite-backed Store is the single source of truth for run state: the
// current stage, the four progress counters, stage outputs, and the character,
// page, and panel rows. Every write that belongs to a run is guarded by the
// project's run_id so a superseded or aborted run can never overwrite newer
// state, and CompleteStage commits a stage's entities, progress, and the
// advance to the next stage in a single transaction.
package project
