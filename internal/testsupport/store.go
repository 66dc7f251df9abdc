package testsupport

import (
	"context"
	"testing"

	"comicforge/internal/config"
	"comicforge/internal/project"
)

// MustOpenStore opens a project.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *project.Store {
	t.Helper()

	store, err := project.Open(cfg)
	if err != nil {
		t.Fatalf("project.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewProject creates a queued project owned by ownerID.
func NewProject(t testing.TB, store *project.Store, ownerID string, pages int) *project.Project {
	t.Helper()

	p, err := store.CreateProject(context.Background(), project.NewProject{
		OwnerID: ownerID,
		Brief: project.Brief{
			Synopsis: "A lighthouse keeper befriends a storm.",
			Genre:    "fantasy",
			ArtStyle: "ink wash",
		},
		TotalPages: pages,
	})
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	return p
}
