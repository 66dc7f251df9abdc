// Package notifications pushes run outcomes to ntfy.
//
// NewService returns an ntfy-backed Service when a topic is configured and a
// no-op otherwise. NewHook adapts a Service to the stage executor's lifecycle
// hooks so that completed, failed, and aborted runs are announced without the
// pipeline knowing about HTTP. Each event kind can be switched off in the
// [notifications] config section.
package notifications
