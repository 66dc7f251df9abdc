// Package server exposes the HTTP API: starting generations, polling their
// progress, fetching previews, listing and aborting projects, and daemon
// status.
//
// Every route authenticates through an injected auth.IdentityProvider and
// checks project ownership through an injected api.OwnershipChecker before
// reading anything. Errors are mapped from the services markers to status
// codes in one place (writeError); internal failures are logged with a
// correlation id and reported to the caller with a generic message.
package server
