// Package daemon coordinates the long-running comicforge process.
//
// It wires the project store, the stage executor, the pipeline orchestrator,
// notifications, and the HTTP server into a single lifecycle with flock-based
// locking to prevent multiple instances against one data directory. On start
// it resumes runs a previous process left active and then periodically
// reclaims runs whose heartbeat went quiet.
//
// Keep orchestration logic here: stage work lives in internal/workers and run
// sequencing in internal/pipeline, while the daemon focuses on startup,
// shutdown, and status.
package daemon
