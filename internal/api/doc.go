// Package api defines the wire-format types of the HTTP API and the read-only
// projection service behind the polling endpoints. It translates stored
// projects into transport-friendly DTOs that the web client and the CLI
// render without coupling to internal types.
//
// # Key Types
//
// GenerationProgress: the polling contract. Status and stage carry the raw
// stage value; progress is the weighted aggregate of the four group counters;
// the optional previews grow as stages complete.
//
// ProjectPreview: full project detail with characters and the first N pages,
// each page carrying its panels with geometry, prompts, and speech bubbles.
//
// ProjectSummary: one row of the project listing.
//
// DaemonStatus: running state, stage counts, and worker health.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers.
// Timestamps use RFC3339 with milliseconds. Failure reasons never leave the
// server: a failed project reports status "failed" and nothing more.
//
// Ownership is checked before anything is read. A project the caller does not
// own and a project that does not exist produce the same ErrNotFound.
package api
