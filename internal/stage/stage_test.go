package stage

import (
	"context"
	"testing"

	"comicforge/internal/project"
)

func TestPriorOutputDecodes(t *testing.T) {
	prior := Prior{Outputs: map[project.Stage]project.StageOutput{
		project.StageAnalyzing: {Stage: project.StageAnalyzing, Payload: `{"title":"Storm Keeper"}`},
	}}

	var analysis project.StoryAnalysis
	ok, err := prior.Output(project.StageAnalyzing, &analysis)
	if err != nil || !ok {
		t.Fatalf("expected decoded output, got ok=%v err=%v", ok, err)
	}
	if analysis.Title != "Storm Keeper" {
		t.Fatalf("unexpected title %q", analysis.Title)
	}

	ok, err = prior.Output(project.StageScript, &analysis)
	if err != nil || ok {
		t.Fatalf("expected missing output, got ok=%v err=%v", ok, err)
	}
}

func TestPriorOutputRejectsInvalidJSON(t *testing.T) {
	prior := Prior{Outputs: map[project.Stage]project.StageOutput{
		project.StageScript: {Payload: `{not json`},
	}}
	var script project.Script
	if _, err := prior.Output(project.StageScript, &script); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDiscardReporter(t *testing.T) {
	Discard.Report(context.Background(), 50)

	var got int
	ReporterFunc(func(_ context.Context, percent int) { got = percent }).Report(context.Background(), 42)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestHealthConstructors(t *testing.T) {
	if h := Healthy("script"); !h.Ready || h.Name != "script" {
		t.Fatalf("unexpected healthy record %+v", h)
	}
	if h := Unhealthy("panels", "missing api key"); h.Ready || h.Detail != "missing api key" {
		t.Fatalf("unexpected unhealthy record %+v", h)
	}
}
