// Package services defines shared utilities consumed by the pipeline stages,
// the HTTP layer, and the external generation clients.
//
// Key responsibilities:
//   - Context helpers that stamp project IDs, run IDs, stage names, and
//     correlation identifiers for logging.
//   - Sentinel error markers plus the Wrap helper. The markers drive both
//     stage retry classification and HTTP status mapping.
//
// Stage workers should wrap every failure they return so the executor can
// tell a rate limit apart from a malformed model response.
package services
