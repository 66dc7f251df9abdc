// Package main hosts the comicforge CLI entrypoint and command graph.
//
// The Cobra command tree turns terminal invocations into HTTP calls against
// comicforged: starting and restarting generation runs, polling progress,
// fetching previews, listing and aborting projects, and reading daemon
// status. Configuration scaffolding and the doctor checks run locally
// without a daemon.
//
// Keep this package lean. New behaviour belongs in the internal packages
// first and is surfaced here through dedicated commands or flags.
package main
