package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"comicforge/internal/project"
	"comicforge/internal/services"
	"comicforge/internal/services/imagegen"
	"comicforge/internal/stage"
)

const (
	analysisJSON = `{"title":"The Last Lighthouse","logline":"A keeper fights a storm.","tone":"hopeful","setting":"rocky coast",
		"characters":["Mara Quill","Tobin"],"beats":["storm arrives","lamp fails","Mara climbs","light returns"]}`
	scriptJSON = `{"title":"The Last Lighthouse","pages":[
		{"pageNumber":7,"summary":"Storm rolls in","panels":[
			{"description":"Waves crash on the rocks","characters":["Mara Quill"]},
			{"description":"Mara watches the sky","characters":["Mara"],"dialogue":[{"speaker":"Mara Quill","text":"It's coming.","type":"speech"}]}]},
		{"pageNumber":9,"summary":"The lamp fails","panels":[
			{"description":"The lamp flickers out","characters":["Tobin"],"dialogue":[
				{"speaker":"Tobin","text":"Mara! The light!","type":"SHOUT"},
				{"speaker":"Mara Quill","text":"Not tonight.","type":"thought"}]},
			{"description":"Mara climbs the stairs","characters":["Mara Quill"]},
			{"description":"","characters":[]}]},
		{"pageNumber":10,"summary":"Extra page","panels":[{"description":"Unused"}]}]}`
	castJSON = `{"characters":[
		{"name":"Mara Quill","description":"weathered keeper in a yellow coat","expressions":["determined"," "]},
		{"name":"Tobin","description":"young apprentice"},
		{"name":"","description":"nameless"}]}`
	letteringJSON = `{"panels":[{"pageNumber":2,"panelIndex":0,"bubbles":[{"speaker":"tobin","text":"The light!","type":"shout"}]},
		{"pageNumber":5,"panelIndex":0,"bubbles":[{"speaker":"x","text":"ignored"}]}]}`
)

type fakeText struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []string
	err       error
}

func newFakeText() *fakeText {
	return &fakeText{responses: map[string]string{
		"story editor":       analysisJSON,
		"comic book writer":  scriptJSON,
		"character designer": castJSON,
		"letterer":           letteringJSON,
	}}
}

func (f *fakeText) CompleteInto(_ context.Context, system, user string, target any) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, user)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	for marker, payload := range f.responses {
		if strings.Contains(system, marker) {
			return payload, json.Unmarshal([]byte(payload), target)
		}
	}
	return "", fmt.Errorf("no canned response for prompt %q", system)
}

func (f *fakeText) HealthCheck(context.Context) error { return nil }

type fakeImages struct {
	mu       sync.Mutex
	requests []imagegen.Request
	err      error
	health   error
}

func (f *fakeImages) Generate(_ context.Context, req imagegen.Request) (imagegen.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return imagegen.Image{}, f.err
	}
	f.requests = append(f.requests, req)
	return imagegen.Image{URL: fmt.Sprintf("https://img.example/%d.png", len(f.requests))}, nil
}

func (f *fakeImages) HealthCheck(context.Context) error { return f.health }

func (f *fakeImages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []int
}

func (r *recordingReporter) Report(_ context.Context, percent int) {
	r.mu.Lock()
	r.reports = append(r.reports, percent)
	r.mu.Unlock()
}

func (r *recordingReporter) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return -1
	}
	return r.reports[len(r.reports)-1]
}

func buildWorkers(t *testing.T, text TextGenerator, images ImageGenerator) map[project.Stage]stage.Worker {
	t.Helper()
	list, err := Build(Options{Text: text, Images: images, Concurrency: 2, PageWidth: 1000, PageHeight: 1500})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	byStage := make(map[project.Stage]stage.Worker, len(list))
	for _, w := range list {
		byStage[w.Stage()] = w
	}
	return byStage
}

// pipelineState mimics what the executor commits between stages.
type pipelineState struct {
	project *project.Project
	prior   stage.Prior
}

func newPipelineState(pages int) *pipelineState {
	return &pipelineState{
		project: &project.Project{
			ID:         "p1",
			RunID:      "r1",
			TotalPages: pages,
			Brief:      project.Brief{Synopsis: "A keeper saves the light.", Genre: "adventure", ArtStyle: "ink wash"},
		},
		prior: stage.Prior{Outputs: map[project.Stage]project.StageOutput{}},
	}
}

func (s *pipelineState) run(t *testing.T, w stage.Worker) stage.Result {
	t.Helper()
	rep := &recordingReporter{}
	result, err := w.Run(context.Background(), stage.Input{Project: s.project, Prior: s.prior}, rep)
	if err != nil {
		t.Fatalf("%s: %v", w.Stage(), err)
	}
	if rep.last() != 100 {
		t.Fatalf("%s: expected final report of 100, got %v", w.Stage(), rep.reports)
	}
	s.apply(t, w.Stage(), result)
	return result
}

func (s *pipelineState) apply(t *testing.T, st project.Stage, r stage.Result) {
	t.Helper()
	payload, err := json.Marshal(r.Output)
	if err != nil {
		t.Fatalf("marshal output: %v", err)
	}
	s.prior.Outputs[st] = project.StageOutput{Stage: st, Payload: string(payload)}
	if r.Title != "" {
		s.project.Title = r.Title
	}
	if r.StoryAnalysis != nil {
		s.project.StoryAnalysis = r.StoryAnalysis
	}
	if r.Script != nil {
		s.project.Script = r.Script
	}
	if r.Characters != nil {
		s.prior.Characters = r.Characters
	}
	if r.Pages != nil {
		s.prior.Pages = r.Pages
	}
	if r.Panels != nil {
		s.prior.Panels = r.Panels
	}
}

func TestWorkersProduceAComic(t *testing.T) {
	text := newFakeText()
	images := &fakeImages{}
	workers := buildWorkers(t, text, images)
	if len(workers) != len(project.WorkerStages()) {
		t.Fatalf("expected one worker per stage, got %d", len(workers))
	}
	state := newPipelineState(2)

	state.run(t, workers[project.StageAnalyzing])
	if state.project.Title != "The Last Lighthouse" || len(state.project.StoryAnalysis.Beats) != 4 {
		t.Fatalf("unexpected analysis %+v", state.project.StoryAnalysis)
	}
	if !strings.Contains(text.calls[0], "A keeper saves the light.") || !strings.Contains(text.calls[0], "Genre: adventure") {
		t.Fatalf("analysis prompt missing brief: %q", text.calls[0])
	}

	state.run(t, workers[project.StageScript])
	script := state.project.Script
	if len(script.Pages) != 2 || script.Pages[0].PageNumber != 1 || script.Pages[1].PageNumber != 2 {
		t.Fatalf("expected two renumbered pages, got %+v", script.Pages)
	}
	if len(script.Pages[1].Panels) != 2 {
		t.Fatalf("expected blank panel dropped, got %d panels", len(script.Pages[1].Panels))
	}
	if script.Pages[1].Panels[0].Dialogue[0].Type != project.BubbleShout {
		t.Fatalf("expected normalized bubble type, got %q", script.Pages[1].Panels[0].Dialogue[0].Type)
	}
	if script.Logline != "A keeper fights a storm." {
		t.Fatalf("expected logline from analysis, got %q", script.Logline)
	}

	state.run(t, workers[project.StageCharacters])
	cast := state.prior.Characters
	if len(cast) != 2 || cast[0].Handle != "mara-quill" || cast[1].Handle != "tobin" {
		t.Fatalf("unexpected cast %+v", cast)
	}
	if len(cast[0].Expressions) != 1 {
		t.Fatalf("expected blank expression dropped, got %v", cast[0].Expressions)
	}

	state.run(t, workers[project.StageDesigns])
	for _, ch := range state.prior.Characters {
		if ch.ReferenceImages[project.ViewFront] == "" || ch.ReferenceImages[project.ViewProfile] == "" {
			t.Fatalf("expected both reference views for %s, got %v", ch.Handle, ch.ReferenceImages)
		}
	}
	if images.count() != 4 {
		t.Fatalf("expected 4 design requests, got %d", images.count())
	}

	state.run(t, workers[project.StageLayouts])
	if len(state.prior.Pages) != 2 || state.prior.Pages[0].LayoutID != "two-tier" {
		t.Fatalf("unexpected pages %+v", state.prior.Pages)
	}
	if len(state.prior.Panels) != 4 {
		t.Fatalf("expected 4 panels, got %d", len(state.prior.Panels))
	}
	first := state.prior.Panels[0]
	if first.Geometry.Width <= 0 || first.Relative.Width <= 0 || first.Relative.Width > 1 {
		t.Fatalf("unexpected geometry %+v / %+v", first.Geometry, first.Relative)
	}
	if strings.Join(state.prior.Panels[1].CharacterHandles, ",") != "mara-quill" {
		t.Fatalf("expected first-name reference resolved once, got %v", state.prior.Panels[1].CharacterHandles)
	}
	if !strings.Contains(first.Prompt, "ink wash") || !strings.Contains(first.Prompt, "yellow coat") {
		t.Fatalf("panel prompt missing style or character: %q", first.Prompt)
	}

	before := images.count()
	state.run(t, workers[project.StagePanels])
	for _, panel := range state.prior.Panels {
		if panel.ImageURL == "" {
			t.Fatalf("panel %d/%d has no image", panel.PageNumber, panel.PanelIndex)
		}
	}
	if images.count()-before != 4 {
		t.Fatalf("expected 4 panel requests, got %d", images.count()-before)
	}
	for _, req := range images.requests[before:] {
		if strings.Contains(req.Prompt, "Mara") && len(req.ReferenceURLs) == 0 {
			t.Fatalf("expected character references on %q", req.Prompt)
		}
	}

	state.run(t, workers[project.StageDialogue])
	bubbles := map[string][]project.SpeechBubble{}
	for _, panel := range state.prior.Panels {
		bubbles[fmt.Sprintf("%d/%d", panel.PageNumber, panel.PanelIndex)] = panel.Bubbles
	}
	if got := bubbles["1/1"]; len(got) != 1 || got[0].Speaker != "mara-quill" || got[0].Tail != project.TailBottom {
		t.Fatalf("expected script line kept for 1/1, got %+v", got)
	}
	if got := bubbles["2/0"]; len(got) != 1 || got[0].Text != "The light!" || got[0].Type != project.BubbleShout {
		t.Fatalf("expected lettered line for 2/0, got %+v", got)
	}
	if got := bubbles["1/0"]; len(got) != 0 {
		t.Fatalf("expected no bubbles on 1/0, got %+v", got)
	}

	state.run(t, workers[project.StageFinalizing])
	for _, page := range state.prior.Pages {
		if page.ImageURL == "" {
			t.Fatalf("page %d has no preview", page.PageNumber)
		}
	}
	last := images.requests[len(images.requests)-1]
	if len(last.ReferenceURLs) != 2 || last.Width != 1000 || last.Height != 1500 {
		t.Fatalf("unexpected page request %+v", last)
	}
}

func TestScriptShortOfPagesIsFatal(t *testing.T) {
	text := newFakeText()
	workers := buildWorkers(t, text, &fakeImages{})
	state := newPipelineState(5)
	state.run(t, workers[project.StageAnalyzing])

	_, err := workers[project.StageScript].Run(context.Background(), stage.Input{Project: state.project, Prior: state.prior}, stage.Discard)
	if !errors.Is(err, services.ErrFatal) || services.IsRetryable(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestScriptWithoutAnalysisIsFatal(t *testing.T) {
	workers := buildWorkers(t, newFakeText(), &fakeImages{})
	state := newPipelineState(2)
	_, err := workers[project.StageScript].Run(context.Background(), stage.Input{Project: state.project, Prior: state.prior}, stage.Discard)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestAnalysisWithoutTitleIsFatal(t *testing.T) {
	text := newFakeText()
	text.responses["story editor"] = `{"title":"  ","beats":["one"]}`
	workers := buildWorkers(t, text, &fakeImages{})
	state := newPipelineState(1)
	_, err := workers[project.StageAnalyzing].Run(context.Background(), stage.Input{Project: state.project, Prior: state.prior}, stage.Discard)
	if !errors.Is(err, services.ErrFatal) || services.IsRetryable(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestTextErrorsPassThrough(t *testing.T) {
	text := newFakeText()
	text.err = services.Wrap(services.ErrExternalTool, "llm", "complete", "rejected", nil)
	workers := buildWorkers(t, text, &fakeImages{})
	state := newPipelineState(1)
	_, err := workers[project.StageAnalyzing].Run(context.Background(), stage.Input{Project: state.project, Prior: state.prior}, stage.Discard)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestDesignsReuseExistingViews(t *testing.T) {
	images := &fakeImages{}
	workers := buildWorkers(t, newFakeText(), images)
	state := newPipelineState(1)
	state.prior.Characters = []project.Character{
		{ID: "c1", Handle: "mara", Name: "Mara", ReferenceImages: map[string]string{project.ViewFront: "front.png", project.ViewProfile: "side.png"}},
		{ID: "c2", Handle: "tobin", Name: "Tobin", ReferenceImages: map[string]string{project.ViewFront: "tobin.png"}},
	}
	result := state.run(t, workers[project.StageDesigns])
	if images.count() != 1 {
		t.Fatalf("expected only the missing view requested, got %d", images.count())
	}
	if result.Characters[0].ReferenceImages[project.ViewFront] != "front.png" {
		t.Fatal("existing reference image was replaced")
	}
	if state.prior.Characters[1].ReferenceImages[project.ViewProfile] == "" {
		t.Fatal("missing view was not generated")
	}
}

func TestImageFailureFailsStage(t *testing.T) {
	images := &fakeImages{err: services.Wrap(services.ErrTransient, "imagegen", "generate", "rate limited", nil)}
	workers := buildWorkers(t, newFakeText(), images)
	state := newPipelineState(1)
	state.prior.Characters = []project.Character{{Handle: "mara", Name: "Mara"}}
	_, err := workers[project.StageDesigns].Run(context.Background(), stage.Input{Project: state.project, Prior: state.prior}, stage.Discard)
	if !services.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestFinalizingRequiresPanelArtwork(t *testing.T) {
	workers := buildWorkers(t, newFakeText(), &fakeImages{})
	state := newPipelineState(1)
	state.prior.Pages = []project.Page{{PageNumber: 1, Width: 10, Height: 10, LayoutID: "splash"}}
	state.prior.Panels = []project.Panel{{PageNumber: 1, PanelIndex: 0}}
	_, err := workers[project.StageFinalizing].Run(context.Background(), stage.Input{Project: state.project, Prior: state.prior}, stage.Discard)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestHealthChecksAreCached(t *testing.T) {
	images := &fakeImages{health: errors.New("no key")}
	workers := buildWorkers(t, newFakeText(), images)
	health := workers[project.StagePanels].HealthCheck(context.Background())
	if health.Ready || health.Detail != "no key" {
		t.Fatalf("unexpected health %+v", health)
	}
	images.health = nil
	if workers[project.StageFinalizing].HealthCheck(context.Background()).Ready {
		t.Fatal("expected cached failure to be reported")
	}
	if !workers[project.StageLayouts].HealthCheck(context.Background()).Ready {
		t.Fatal("layouts should always be ready")
	}
	if !workers[project.StageScript].HealthCheck(context.Background()).Ready {
		t.Fatal("text workers should be ready")
	}
}

func TestBuildRequiresGenerators(t *testing.T) {
	if _, err := Build(Options{Text: newFakeText()}); err == nil {
		t.Fatal("expected error without image generator")
	}
}
