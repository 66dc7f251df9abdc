// Package stage defines the boundary between the pipeline and the workers
// that produce each stage's output.
package stage

import (
	"context"
	"encoding/json"

	"comicforge/internal/project"
)

// Worker executes one pipeline stage. Workers must be idempotent: the same
// input may be run again after a retry or a daemon restart.
type Worker interface {
	Stage() project.Stage
	Run(ctx context.Context, in Input, report Reporter) (Result, error)
	HealthCheck(ctx context.Context) Health
}

// Input is the state a worker starts from. Prior carries everything earlier
// stages of the current run committed.
type Input struct {
	Project *project.Project
	Prior   Prior
}

// Prior holds committed entities and raw stage outputs.
type Prior struct {
	Outputs    map[project.Stage]project.StageOutput
	Characters []project.Character
	Pages      []project.Page
	Panels     []project.Panel
}

// Output decodes the committed payload of an earlier stage into dst. It
// reports false when that stage has no output.
func (p Prior) Output(stage project.Stage, dst any) (bool, error) {
	out, ok := p.Outputs[stage]
	if !ok || out.Payload == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(out.Payload), dst); err != nil {
		return false, err
	}
	return true, nil
}

// Result is what a worker hands back for the executor to commit.
type Result struct {
	// Output is encoded to JSON and stored as the stage output.
	Output any

	Title         string
	StoryAnalysis *project.StoryAnalysis
	Script        *project.Script

	Characters []project.Character
	Pages      []project.Page
	Panels     []project.Panel

	// Replace prunes entities of the returned kinds that the result omits.
	Replace bool
}

// Reporter receives intra-stage progress as a percentage of the stage.
type Reporter interface {
	Report(ctx context.Context, percent int)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, percent int)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, percent int) {
	if f != nil {
		f(ctx, percent)
	}
}

// Discard is a Reporter that drops every report.
var Discard Reporter = ReporterFunc(nil)
