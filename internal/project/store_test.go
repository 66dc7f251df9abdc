package project_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"comicforge/internal/project"
	"comicforge/internal/services"
	"comicforge/internal/testsupport"
)

func openStore(t *testing.T) *project.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t))
}

func TestCreateProjectStartsQueued(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	p := testsupport.NewProject(t, store, "user-1", 4)
	if p.ID == "" || p.RunID == "" || p.AccessToken == "" {
		t.Fatalf("expected identifiers to be assigned, got %#v", p)
	}
	if p.Stage != project.StageQueued {
		t.Fatalf("expected queued, got %s", p.Stage)
	}
	if !p.PreviewOnly {
		t.Fatal("expected preview_only on creation")
	}
	if p.Progress != (project.Progress{}) {
		t.Fatalf("expected zero progress, got %+v", p.Progress)
	}

	found, err := store.FindByAccessToken(ctx, p.AccessToken)
	if err != nil {
		t.Fatalf("FindByAccessToken: %v", err)
	}
	if found == nil || found.ID != p.ID {
		t.Fatalf("expected project by access token, got %#v", found)
	}

	missing, err := store.GetProject(ctx, "does-not-exist")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing project, got %#v, %v", missing, err)
	}
}

func TestCreateProjectRequiresOwner(t *testing.T) {
	store := openStore(t)
	_, err := store.CreateProject(context.Background(), project.NewProject{
		Brief:      project.Brief{Synopsis: "x", ArtStyle: "y"},
		TotalPages: 1,
	})
	if err == nil {
		t.Fatal("expected error without owner")
	}
}

func TestListProjectsScopesToOwner(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	testsupport.NewProject(t, store, "alice", 1)
	testsupport.NewProject(t, store, "alice", 2)
	testsupport.NewProject(t, store, "bob", 3)

	alice, err := store.ListProjects(ctx, "alice")
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("expected 2 projects for alice, got %d", len(alice))
	}
	all, err := store.ListProjects(ctx, "")
	if err != nil {
		t.Fatalf("ListProjects all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 projects, got %d", len(all))
	}
}

func TestCompleteStageCommitsAtomically(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)

	if err := store.Advance(ctx, p.ID, p.RunID, project.StageQueued, project.StageAnalyzing); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	err := store.CompleteStage(ctx, project.Completion{
		ProjectID:     p.ID,
		RunID:         p.RunID,
		Stage:         project.StageAnalyzing,
		Next:          project.StageScript,
		Group:         project.GroupScript,
		GroupValue:    50,
		Output:        `{"title":"Storm Keeper"}`,
		Title:         "Storm Keeper",
		StoryAnalysis: &project.StoryAnalysis{Title: "Storm Keeper", Logline: "A keeper and a storm."},
	})
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}

	got, err := store.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Stage != project.StageScript {
		t.Fatalf("expected script stage, got %s", got.Stage)
	}
	if got.Progress.Script != 50 {
		t.Fatalf("expected script progress 50, got %d", got.Progress.Script)
	}
	if got.Title != "Storm Keeper" || got.StoryAnalysis == nil || got.StoryAnalysis.Logline == "" {
		t.Fatalf("expected analysis to be stored, got %#v", got)
	}
	outputs, err := store.StageOutputs(ctx, p.ID)
	if err != nil {
		t.Fatalf("StageOutputs: %v", err)
	}
	if outputs[project.StageAnalyzing].Payload != `{"title":"Storm Keeper"}` {
		t.Fatalf("unexpected stage output: %#v", outputs)
	}
}

func TestCompleteStageRejectsStaleRun(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)
	if err := store.Advance(ctx, p.ID, p.RunID, project.StageQueued, project.StageAnalyzing); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	err := store.CompleteStage(ctx, project.Completion{
		ProjectID:  p.ID,
		RunID:      "some-other-run",
		Stage:      project.StageAnalyzing,
		Next:       project.StageScript,
		Group:      project.GroupScript,
		GroupValue: 50,
		Output:     `{}`,
		Title:      "Ghost",
	})
	if !errors.Is(err, project.ErrStaleRun) {
		t.Fatalf("expected ErrStaleRun, got %v", err)
	}

	got, _ := store.GetProject(ctx, p.ID)
	if got.Stage != project.StageAnalyzing || got.Progress.Script != 0 || got.Title != "" {
		t.Fatalf("expected no partial state, got %#v", got)
	}
	outputs, _ := store.StageOutputs(ctx, p.ID)
	if len(outputs) != 0 {
		t.Fatalf("expected no stage outputs, got %#v", outputs)
	}
}

func TestCompleteStageRollsBackOnEntityFailure(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)
	advanceTo(t, store, p, project.StageLayouts)

	// A panel on a page that does not exist violates the foreign key.
	err := store.CompleteStage(ctx, project.Completion{
		ProjectID:  p.ID,
		RunID:      p.RunID,
		Stage:      project.StageLayouts,
		Next:       project.StagePanels,
		Group:      project.GroupStoryboard,
		GroupValue: 50,
		Panels:     []project.Panel{{PageNumber: 9, PanelIndex: 0}},
	})
	if err == nil {
		t.Fatal("expected foreign key failure")
	}
	got, _ := store.GetProject(ctx, p.ID)
	if got.Stage != project.StageLayouts || got.Progress.Storyboard != 0 {
		t.Fatalf("expected rollback, got stage=%s progress=%+v", got.Stage, got.Progress)
	}
}

func TestEntityUpsertsAreIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)
	advanceTo(t, store, p, project.StageCharacters)

	cast := []project.Character{
		{Name: "Mara", Handle: "mara", Description: "keeper"},
		{Name: "Gale", Handle: "gale", Description: "storm"},
	}
	complete(t, store, p, project.StageCharacters, project.Completion{Characters: cast, Replace: true})

	first, err := store.Characters(ctx, p.ID)
	if err != nil {
		t.Fatalf("Characters: %v", err)
	}
	if len(first) != 2 || first[0].Handle != "mara" {
		t.Fatalf("unexpected cast: %#v", first)
	}

	// Designs re-upserts the same handles with reference images.
	for i := range first {
		first[i].ReferenceImages = map[string]string{project.ViewFront: "https://img/" + first[i].Handle}
	}
	complete(t, store, p, project.StageDesigns, project.Completion{Characters: first})

	second, err := store.Characters(ctx, p.ID)
	if err != nil {
		t.Fatalf("Characters: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected upsert to keep 2 characters, got %d", len(second))
	}
	for i := range second {
		if second[i].ID != first[i].ID {
			t.Fatalf("expected stable id for %s", second[i].Handle)
		}
		if second[i].PrimaryImage() == "" {
			t.Fatalf("expected reference image for %s", second[i].Handle)
		}
	}
}

func TestPanelsMergeAcrossStages(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)
	advanceTo(t, store, p, project.StageLayouts)

	panel := project.Panel{
		PageNumber:  1,
		PanelIndex:  0,
		Geometry:    project.Rect{X: 10, Y: 10, Width: 500, Height: 400},
		Relative:    project.Rect{X: 0.1, Y: 0.1, Width: 0.5, Height: 0.4},
		Description: "The lighthouse at dusk",
	}
	complete(t, store, p, project.StageLayouts, project.Completion{
		Pages:   []project.Page{{PageNumber: 1, Width: 1600, Height: 2400, LayoutID: "grid-1"}},
		Panels:  []project.Panel{panel},
		Replace: true,
	})

	panel.ImageURL = "https://img/panel-1"
	complete(t, store, p, project.StagePanels, project.Completion{Panels: []project.Panel{panel}})

	panel.ImageURL = ""
	panel.Bubbles = []project.SpeechBubble{{Text: "Hello", Type: project.BubbleSpeech, Tail: project.TailBottom}}
	complete(t, store, p, project.StageDialogue, project.Completion{Panels: []project.Panel{panel}})

	panels, err := store.Panels(ctx, p.ID)
	if err != nil {
		t.Fatalf("Panels: %v", err)
	}
	if len(panels) != 1 {
		t.Fatalf("expected 1 panel, got %d", len(panels))
	}
	got := panels[0]
	if got.ImageURL != "https://img/panel-1" {
		t.Fatalf("expected image url to survive dialogue, got %q", got.ImageURL)
	}
	if len(got.Bubbles) != 1 || got.Bubbles[0].Text != "Hello" {
		t.Fatalf("expected bubble, got %#v", got.Bubbles)
	}
	if got.Relative.Width != 0.5 {
		t.Fatalf("expected relative geometry, got %+v", got.Relative)
	}

	snap, err := store.Snapshot(ctx, p.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap == nil || len(snap.Pages) != 1 || len(snap.Panels) != 1 {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}

func TestSetProgressIsMonotonicAndClamped(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)
	advanceTo(t, store, p, project.StageAnalyzing)

	for _, value := range []int{30, 10, 150} {
		if err := store.SetProgress(ctx, p.ID, p.RunID, project.StageAnalyzing, project.GroupScript, value); err != nil {
			t.Fatalf("SetProgress(%d): %v", value, err)
		}
	}
	got, _ := store.GetProject(ctx, p.ID)
	if got.Progress.Script != 100 {
		t.Fatalf("expected clamped 100, got %d", got.Progress.Script)
	}

	err := store.SetProgress(ctx, p.ID, p.RunID, project.StageScript, project.GroupScript, 10)
	if !errors.Is(err, project.ErrStaleRun) {
		t.Fatalf("expected ErrStaleRun for wrong stage, got %v", err)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)
	advanceTo(t, store, p, project.StageScript)

	prev, changed, err := store.Abort(ctx, p.ID, "user cancelled")
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if !changed || prev != project.StageScript {
		t.Fatalf("expected change from script, got prev=%s changed=%v", prev, changed)
	}
	_, changed, err = store.Abort(ctx, p.ID, "again")
	if err != nil {
		t.Fatalf("second Abort: %v", err)
	}
	if changed {
		t.Fatal("expected second abort to be a no-op")
	}
	got, _ := store.GetProject(ctx, p.ID)
	if got.Stage != project.StageFailed || got.FailureReason != "user cancelled" {
		t.Fatalf("unexpected project after abort: %#v", got)
	}

	if _, _, err := store.Abort(ctx, "missing", ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailIgnoresOtherRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)

	_, changed, err := store.Fail(ctx, p.ID, "old-run", "boom")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if changed {
		t.Fatal("expected failure from another run to be ignored")
	}
}

func TestBeginRunSupersedesFailedRun(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)
	advanceTo(t, store, p, project.StageCharacters)
	complete(t, store, p, project.StageCharacters, project.Completion{
		Characters: []project.Character{{Name: "Mara", Handle: "mara"}},
	})

	if _, err := store.BeginRun(ctx, p.ID, "user-1"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for active run, got %v", err)
	}
	if _, err := store.BeginRun(ctx, p.ID, "user-2"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for another owner, got %v", err)
	}

	if _, _, err := store.Fail(ctx, p.ID, p.RunID, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	restarted, err := store.BeginRun(ctx, p.ID, "user-1")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if restarted.RunID == p.RunID {
		t.Fatal("expected a new run id")
	}
	if restarted.Stage != project.StageQueued || restarted.FailureReason != "" || restarted.Progress != (project.Progress{}) {
		t.Fatalf("expected reset project, got %#v", restarted)
	}
	cast, _ := store.Characters(ctx, p.ID)
	if len(cast) != 0 {
		t.Fatalf("expected entities of the old run to be discarded, got %#v", cast)
	}

	// The superseded run can no longer write.
	if err := store.Advance(ctx, p.ID, p.RunID, project.StageQueued, project.StageAnalyzing); !errors.Is(err, project.ErrStaleRun) {
		t.Fatalf("expected stale run, got %v", err)
	}
}

func TestBeginRunRejectsCompleteProject(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)
	advanceTo(t, store, p, project.StageFinalizing)
	complete(t, store, p, project.StageFinalizing, project.Completion{})

	got, _ := store.GetProject(ctx, p.ID)
	if got.Stage != project.StageComplete || got.PreviewOnly {
		t.Fatalf("expected complete project with preview_only cleared, got %#v", got)
	}
	if _, err := store.BeginRun(ctx, p.ID, "user-1"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStaleProjectsUsesHeartbeat(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	p := testsupport.NewProject(t, store, "user-1", 1)
	done := testsupport.NewProject(t, store, "user-1", 1)
	if _, _, err := store.Abort(ctx, done.ID, ""); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	stale, err := store.StaleProjects(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("StaleProjects: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != p.ID {
		t.Fatalf("expected only the active project to be stale, got %#v", stale)
	}

	if err := store.UpdateHeartbeat(ctx, p.ID, p.RunID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	stale, err = store.StaleProjects(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("StaleProjects: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected fresh heartbeat to clear staleness, got %d", len(stale))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 || stats.Active != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// advanceTo walks a fresh project to target by committing empty stages.
func advanceTo(t *testing.T, store *project.Store, p *project.Project, target project.Stage) {
	t.Helper()
	ctx := context.Background()
	if err := store.Advance(ctx, p.ID, p.RunID, project.StageQueued, project.StageAnalyzing); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	for current := project.StageAnalyzing; current != target; {
		next, _ := project.NextStage(current)
		complete(t, store, p, current, project.Completion{})
		current = next
	}
}

func complete(t *testing.T, store *project.Store, p *project.Project, stage project.Stage, c project.Completion) {
	t.Helper()
	next, ok := project.NextStage(stage)
	if !ok {
		t.Fatalf("no stage after %s", stage)
	}
	c.ProjectID = p.ID
	c.RunID = p.RunID
	c.Stage = stage
	c.Next = next
	if err := store.CompleteStage(context.Background(), c); err != nil {
		t.Fatalf("CompleteStage(%s): %v", stage, err)
	}
}
