package project_test

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"comicforge/internal/project"
)

func TestOpenPathReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comicforge.db")
	store, err := project.OpenPath(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = store.Close()

	store, err = project.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = store.Close()
}

func TestOpenPathRejectsForeignLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comicforge.db")
	store, err := project.OpenPath(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 9"); err != nil {
		t.Fatalf("stamp version: %v", err)
	}
	_ = db.Close()

	if _, err := project.OpenPath(path); !errors.Is(err, project.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
