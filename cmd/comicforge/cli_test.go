package main

import (
	"encoding/json"
	"strings"
	"testing"

	"comicforge/internal/api"
)

func generateJSON(t *testing.T, env *cliTestEnv, token string, args ...string) api.GenerateResponse {
	t.Helper()
	out, err := env.run(t, token, append([]string{"generate", "--json"}, args...)...)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var resp api.GenerateResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode generate output %q: %v", out, err)
	}
	if resp.ProjectID == "" || resp.AccessToken == "" {
		t.Fatalf("incomplete generate response: %+v", resp)
	}
	return resp
}

func TestGenerateWatchFollowsRunToCompletion(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, aliceToken,
		"generate", "A lighthouse keeper befriends a storm",
		"--pages", "2", "--watch", "--interval", "10ms",
	)
	if err != nil {
		t.Fatalf("generate --watch: %v\n%s", err, out)
	}
	requireContains(t, out, "Comic generation started")
	requireContains(t, out, "Estimated time: 30s")
	requireContains(t, out, "[100%]")
	requireContains(t, out, "Comic ready")
}

func TestGenerateRejectsInvalidPageCount(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, aliceToken, "generate", "A short story", "--pages", "17")
	if err == nil {
		t.Fatal("expected error for 17 pages")
	}
	requireContains(t, err.Error(), "page count must be between 1 and 16")

	out, err := env.run(t, aliceToken, "projects")
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	requireContains(t, out, "No projects")
}

func TestProjectsProgressAndPreview(t *testing.T) {
	env := setupCLITestEnv(t)
	resp := generateJSON(t, env, aliceToken, "A robot learns to paint", "--pages", "1", "--genre", "slice of life")

	if _, err := env.run(t, aliceToken, "progress", resp.ProjectID, "--watch", "--interval", "10ms"); err != nil {
		t.Fatalf("progress --watch: %v", err)
	}

	out, err := env.run(t, aliceToken, "projects")
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	requireContains(t, out, resp.ProjectID)
	requireContains(t, out, "Complete")

	out, err = env.run(t, aliceToken, "progress", resp.ProjectID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	requireContains(t, out, "[OK] Complete")
	requireContains(t, out, "100%")
	requireContains(t, out, "Storyboard")

	out, err = env.run(t, aliceToken, "preview", resp.ProjectID)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	requireContains(t, out, "== Untitled comic ==")
	requireContains(t, out, "slice of life")
	requireContains(t, out, "No pages generated yet")

	out, err = env.run(t, aliceToken, "projects", "--json")
	if err != nil {
		t.Fatalf("projects --json: %v", err)
	}
	var projects []api.ProjectSummary
	if err := json.Unmarshal([]byte(out), &projects); err != nil {
		t.Fatalf("decode projects: %v", err)
	}
	if len(projects) != 1 || projects[0].Status != "complete" {
		t.Fatalf("unexpected projects: %+v", projects)
	}
}

func TestOtherOwnersProjectLooksMissing(t *testing.T) {
	env := setupCLITestEnv(t)
	resp := generateJSON(t, env, aliceToken, "A secret diary", "--pages", "1")

	_, err := env.run(t, bobToken, "progress", resp.ProjectID)
	if err == nil {
		t.Fatal("expected bob to be refused")
	}
	requireContains(t, err.Error(), "Project not found")

	_, missingErr := env.run(t, bobToken, "progress", "does-not-exist")
	if missingErr == nil || missingErr.Error() != err.Error() {
		t.Fatalf("expected identical errors, got %v and %v", err, missingErr)
	}

	out, err := env.run(t, bobToken, "projects")
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if strings.Contains(out, resp.ProjectID) {
		t.Fatalf("bob should not see alice's project: %s", out)
	}
}

func TestAccessTokenReadsItsProject(t *testing.T) {
	env := setupCLITestEnv(t)
	resp := generateJSON(t, env, aliceToken, "A map to nowhere", "--pages", "1")

	out, err := env.run(t, resp.AccessToken, "progress", resp.ProjectID, "--json")
	if err != nil {
		t.Fatalf("progress with access token: %v", err)
	}
	var progress api.GenerationProgress
	if err := json.Unmarshal([]byte(out), &progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.Status == "" {
		t.Fatalf("missing status in %s", out)
	}
}

func TestAbortFinishedProjectReportsNotRunning(t *testing.T) {
	env := setupCLITestEnv(t)
	resp := generateJSON(t, env, aliceToken, "A quiet afternoon", "--pages", "1")
	if _, err := env.run(t, aliceToken, "progress", resp.ProjectID, "--watch", "--interval", "10ms"); err != nil {
		t.Fatalf("progress --watch: %v", err)
	}

	out, err := env.run(t, aliceToken, "abort", resp.ProjectID, "--reason", "changed my mind")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	requireContains(t, out, "was not running (status: Complete)")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	generateJSON(t, env, aliceToken, "A ghost in the library", "--pages", "1")

	out, err := env.run(t, aliceToken, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "[OK] yes")
	requireContains(t, out, "Total")
	requireContains(t, out, "== Stage health ==")
	requireContains(t, out, "Finalizing")
}

func TestClientErrorsAreFriendly(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "wrong-token", "projects")
	if err == nil {
		t.Fatal("expected unauthorized error")
	}
	requireContains(t, err.Error(), "rejected the token")

	_, _, err = runCLI(t, []string{"--config", env.configPath, "--url", "127.0.0.1:1", "--token", aliceToken, "projects"})
	if err == nil {
		t.Fatal("expected unavailable error")
	}
	requireContains(t, err.Error(), "not reachable")
}
