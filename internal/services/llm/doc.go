// Package llm provides an OpenRouter-compatible chat completion client used
// by the text stages of the pipeline (story analysis, script, characters,
// layouts, dialogue).
//
// # Entry Points
//
// NewClient: construct client from Config (ConfigFrom maps the [llm] section).
// Client.CompleteJSON: send system/user prompts, receive a JSON payload.
// Client.CompleteInto: CompleteJSON plus decoding into a target value.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// By default a request is sent once and the stage executor owns retries.
// WithRetryMaxAttempts enables in-client retries on HTTP 408/429/5xx errors,
// empty completions, and network timeouts with exponential backoff (base 1s,
// max 10s). Context cancellation aborts retries immediately.
//
// # Errors
//
// Failures are wrapped with the services markers. Throttling, upstream 5xx
// and network failures are transient, timeouts are ErrTimeout. Malformed or
// empty model output, rejected requests (4xx) and missing configuration are
// fatal.
package llm
