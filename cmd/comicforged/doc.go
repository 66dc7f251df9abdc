// Package main runs comicforged, the long-lived process that owns the project
// store, drives generation runs through their stages, and serves the HTTP API
// the CLI and web clients poll.
package main
