// Package auth resolves the caller of an API request and checks project
// ownership.
//
// Two kinds of bearer token are accepted: operator tokens from the [auth]
// config section, which authenticate as the configured user, and per-project
// access tokens issued by POST /generate, which authenticate as the project's
// owner but only for that project. Resolved project tokens are cached.
package auth
