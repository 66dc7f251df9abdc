// Package logging assembles structured slog loggers and formatting helpers used
// across comicforge.
//
// It owns the configurable console/JSON handlers and exposes context-aware
// helpers so pipeline code can tag log lines with project IDs, run IDs, stages,
// and correlation IDs without threading them through every call. NewNop
// provides a discard logger for tests and optional wiring.
package logging
