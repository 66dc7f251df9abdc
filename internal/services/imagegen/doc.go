// Package imagegen talks to an OpenAI-compatible images endpoint on behalf of
// the designs, panels, and finalizing stages.
//
// Successful responses are cached by request fingerprint so a stage re-run
// after a partial failure only pays for the images it has not produced yet.
// Identical requests in flight at the same time share one upstream call, and
// every upstream call waits on a shared rate limiter.
//
// The client performs no retries of its own. Failures are wrapped with the
// services markers and the stage executor decides whether to try again.
package imagegen
