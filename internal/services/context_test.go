package services_test

import (
	"context"
	"testing"

	"comicforge/internal/services"
)

func TestCorrelationValuesRoundTrip(t *testing.T) {
	ctx := services.WithRequestID(
		services.WithStage(
			services.WithRunID(
				services.WithProjectID(context.Background(), "proj-1"),
				"run-9"),
			"panels"),
		"req-123")

	checks := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"project", services.ProjectIDFromContext, "proj-1"},
		{"run", services.RunIDFromContext, "run-9"},
		{"stage", services.StageFromContext, "panels"},
		{"request", services.RequestIDFromContext, "req-123"},
	}
	for _, c := range checks {
		if got, ok := c.get(ctx); !ok || got != c.want {
			t.Errorf("%s = %q (%v), want %q", c.name, got, ok, c.want)
		}
	}
}

func TestEmptyCorrelationValuesAreDropped(t *testing.T) {
	ctx := services.WithProjectID(services.WithStage(context.Background(), ""), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.ProjectIDFromContext(ctx); ok {
		t.Fatal("expected no project value")
	}
	if _, ok := services.RunIDFromContext(context.Background()); ok {
		t.Fatal("expected no run value on a bare context")
	}
}
