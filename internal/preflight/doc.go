// Package preflight provides readiness checks for the filesystem paths and
// external services comicforge depends on.
//
// These checks run in two contexts:
//   - comicforged runs RunAll once at startup and logs every failure, so a
//     missing API key shows up before the first run fails on it.
//   - The CLI "comicforge doctor" command renders the same results as a table.
//
// Checks never mutate remote state: the LLM check lists models and the image
// check only verifies configuration and reachability.
package preflight
