package api

import (
	"context"
	"strings"

	"comicforge/internal/project"
	"comicforge/internal/services"
)

// OwnershipChecker answers whether a user owns a project.
type OwnershipChecker interface {
	VerifyProjectOwnership(ctx context.Context, userID, projectID string) (bool, error)
}

// SnapshotReader is the read side of the project store used by the service.
type SnapshotReader interface {
	Snapshot(ctx context.Context, projectID string) (*project.Snapshot, error)
	ListProjects(ctx context.Context, ownerID string) ([]*project.Project, error)
}

// Service serves the read-only projections behind the polling endpoints.
type Service struct {
	store        SnapshotReader
	owners       OwnershipChecker
	previewPages int
}

// DefaultPreviewPages bounds /preview when the caller gives no page count.
const DefaultPreviewPages = 4

// NewService wires the projection service.
func NewService(store SnapshotReader, owners OwnershipChecker, previewPages int) *Service {
	if previewPages <= 0 {
		previewPages = DefaultPreviewPages
	}
	return &Service{store: store, owners: owners, previewPages: previewPages}
}

// Progress returns the polling projection of an owned project.
func (s *Service) Progress(ctx context.Context, userID, projectID string) (GenerationProgress, error) {
	snap, err := s.ownedSnapshot(ctx, "progress", userID, projectID)
	if err != nil {
		return GenerationProgress{}, err
	}
	return FromSnapshot(snap), nil
}

// Preview returns the full detail of an owned project. A non-positive maxPages
// falls back to the configured default.
func (s *Service) Preview(ctx context.Context, userID, projectID string, maxPages int) (ProjectPreview, error) {
	snap, err := s.ownedSnapshot(ctx, "preview", userID, projectID)
	if err != nil {
		return ProjectPreview{}, err
	}
	if maxPages <= 0 {
		maxPages = s.previewPages
	}
	return FromSnapshotPreview(snap, maxPages), nil
}

// List returns the caller's projects, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]ProjectSummary, error) {
	if s == nil || s.store == nil {
		return []ProjectSummary{}, nil
	}
	if strings.TrimSpace(userID) == "" {
		return nil, services.Wrap(services.ErrUnauthenticated, "api", "list", "caller identity required", nil)
	}
	projects, err := s.store.ListProjects(ctx, userID)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "api", "list", "list projects", err)
	}
	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, FromProject(p))
	}
	return out, nil
}

// ownedSnapshot authorizes before reading anything. Unowned and missing
// projects return the same error.
func (s *Service) ownedSnapshot(ctx context.Context, op, userID, projectID string) (*project.Snapshot, error) {
	if s == nil || s.store == nil || s.owners == nil {
		return nil, services.Wrap(services.ErrInternal, "api", op, "projection service not configured", nil)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, services.Wrap(services.ErrUnauthenticated, "api", op, "caller identity required", nil)
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, notFound(op)
	}
	owned, err := s.owners.VerifyProjectOwnership(ctx, userID, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "api", op, "verify ownership", err)
	}
	if !owned {
		return nil, notFound(op)
	}
	snap, err := s.store.Snapshot(ctx, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "api", op, "load project", err)
	}
	if snap == nil || snap.Project == nil {
		return nil, notFound(op)
	}
	return snap, nil
}

// ProjectNotFoundMessage is the only message a caller sees for a project it
// cannot read.
const ProjectNotFoundMessage = "Project not found"

func notFound(op string) error {
	return services.Wrap(services.ErrNotFound, "api", op, ProjectNotFoundMessage, nil)
}
