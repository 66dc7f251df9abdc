package preflight

import (
	"context"

	"comicforge/internal/config"
	"comicforge/internal/services/imagegen"
	"comicforge/internal/services/llm"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDatabase(ctx, cfg.DatabasePath()),
		CheckLLM(ctx, "Text generation API", llm.ConfigFrom(cfg)),
		CheckImageAPI(ctx, "Image generation API", imagegen.ConfigFrom(cfg)),
		CheckNotifications(cfg),
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
