// Package config loads, normalizes, and validates comicforge configuration.
//
// Configuration is read from TOML (default ~/.config/comicforge/config.toml,
// falling back to ./comicforge.toml). Paths are expanded, credentials fall
// back to environment variables, and Validate rejects settings the pipeline
// cannot run with. CreateSample writes the embedded sample_config.toml.
package config
