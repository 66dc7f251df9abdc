package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewProject carries the fields required to create a project.
type NewProject struct {
	OwnerID    string
	Brief      Brief
	TotalPages int
}

// CreateProject inserts a project in the queued stage with a fresh run.
func (s *Store) CreateProject(ctx context.Context, req NewProject) (*Project, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, errors.New("create project: owner is required")
	}
	now := timestamp(time.Now())
	id := uuid.NewString()

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO projects (
            id, owner_id, synopsis, genre, art_style, total_pages, generation_stage,
            preview_only, run_id, access_token, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		id,
		req.OwnerID,
		req.Brief.Synopsis,
		nullableString(req.Brief.Genre),
		req.Brief.ArtStyle,
		req.TotalPages,
		StageQueued,
		uuid.NewString(),
		newAccessToken(),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return s.GetProject(ctx, id)
}

func newAccessToken() string {
	return "cfp_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// GetProject fetches a project by identifier. A missing project yields nil, nil.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// FindByAccessToken returns the project issued the given access token.
func (s *Store) FindByAccessToken(ctx context.Context, token string) (*Project, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+projectColumns+` FROM projects WHERE access_token = ?`, token)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by access token: %w", err)
	}
	return p, nil
}

// ListProjects returns projects newest first. An empty owner lists every project.
func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]*Project, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return scanProjects(rows)
}

// ActiveProjects returns every project with a run in flight, oldest first.
func (s *Store) ActiveProjects(ctx context.Context) ([]*Project, error) {
	return s.activeWhere(ctx, "")
}

// StaleProjects returns active projects whose heartbeat (or last update when no
// heartbeat was ever written) is older than cutoff.
func (s *Store) StaleProjects(ctx context.Context, cutoff time.Time) ([]*Project, error) {
	return s.activeWhere(ctx, ` AND COALESCE(last_heartbeat, updated_at) < ?`, timestamp(cutoff))
}

func (s *Store) activeWhere(ctx context.Context, extra string, extraArgs ...any) ([]*Project, error) {
	args := []any{StageComplete, StageFailed}
	args = append(args, extraArgs...)
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+projectColumns+` FROM projects WHERE generation_stage NOT IN (?, ?)`+extra+` ORDER BY created_at`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query active projects: %w", err)
	}
	return scanProjects(rows)
}

// BeginRun supersedes the failed run of an owned project with a new run in the
// queued stage, discarding the entities and outputs of the previous run. The
// check and the reset happen in one transaction.
func (s *Store) BeginRun(ctx context.Context, projectID, ownerID string) (*Project, error) {
	runID := uuid.NewString()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var owner, stageRaw string
		err := tx.QueryRowContext(ctx, `SELECT owner_id, generation_stage FROM projects WHERE id = ?`, projectID).Scan(&owner, &stageRaw)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != ownerID) {
			return notFound("begin run", projectID)
		}
		if err != nil {
			return fmt.Errorf("load project: %w", err)
		}
		switch Stage(stageRaw) {
		case StageFailed:
		case StageComplete:
			return conflict("begin run", "project "+projectID+" is already complete")
		default:
			return conflict("begin run", "project "+projectID+" already has an active run")
		}

		for _, stmt := range []string{
			`DELETE FROM stage_outputs WHERE project_id = ?`,
			`DELETE FROM pages WHERE project_id = ?`,
			`DELETE FROM characters WHERE project_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, projectID); err != nil {
				return fmt.Errorf("reset project entities: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE projects
             SET generation_stage = ?, run_id = ?, title = NULL, story_analysis_json = NULL, script_json = NULL,
                 progress_script = 0, progress_characters = 0, progress_storyboard = 0, progress_preview = 0,
                 preview_only = 1, failure_reason = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE id = ? AND generation_stage = ?`,
			StageQueued, runID, timestamp(time.Now()), projectID, StageFailed,
		)
		if err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return conflict("begin run", "project "+projectID+" changed concurrently")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetProject(ctx, projectID)
}

// Advance moves a project from one stage to another for the given run.
func (s *Store) Advance(ctx context.Context, projectID, runID string, from, to Stage) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE projects SET generation_stage = ?, updated_at = ?
         WHERE id = ? AND run_id = ? AND generation_stage = ?`,
		to, timestamp(time.Now()), projectID, runID, from,
	)
	if err != nil {
		return fmt.Errorf("advance project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("advance %s from %s: %w", projectID, from, ErrStaleRun)
	}
	return nil
}

// SetProgress raises a group counter for the run while the project is still in
// the reporting stage. Counters never move backwards.
func (s *Store) SetProgress(ctx context.Context, projectID, runID string, stage Stage, group Group, value int) error {
	column, ok := group.column()
	if !ok {
		return fmt.Errorf("set progress: unknown group %q", group)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE projects SET `+column+` = MAX(`+column+`, ?), updated_at = ?
         WHERE id = ? AND run_id = ? AND generation_stage = ?`,
		ClampPercent(value), timestamp(time.Now()), projectID, runID, stage,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set progress %s: %w", projectID, ErrStaleRun)
	}
	return nil
}

// UpdateHeartbeat records liveness for an in-flight run.
func (s *Store) UpdateHeartbeat(ctx context.Context, projectID, runID string) error {
	now := timestamp(time.Now())
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE projects SET last_heartbeat = ? WHERE id = ? AND run_id = ?`,
		now, projectID, runID,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// Fail marks an active project failed and records the reason. When runID is
// non-empty only that run is failed. It reports the stage the project was in
// and whether this call changed anything; failing a terminal project is a no-op.
func (s *Store) Fail(ctx context.Context, projectID, runID, reason string) (Stage, bool, error) {
	var (
		previous Stage
		changed  bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		previous, changed = "", false
		var stageRaw, currentRun string
		err := tx.QueryRowContext(ctx, `SELECT generation_stage, run_id FROM projects WHERE id = ?`, projectID).Scan(&stageRaw, &currentRun)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("fail", projectID)
		}
		if err != nil {
			return fmt.Errorf("load project: %w", err)
		}
		previous = Stage(stageRaw)
		if previous.IsTerminal() || (runID != "" && runID != currentRun) {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET generation_stage = ?, failure_reason = ?, updated_at = ?
             WHERE id = ? AND run_id = ? AND generation_stage = ?`,
			StageFailed, nullableString(reason), timestamp(time.Now()), projectID, currentRun, previous,
		)
		if err != nil {
			return fmt.Errorf("fail project: %w", err)
		}
		n, _ := res.RowsAffected()
		changed = n == 1
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return previous, changed, nil
}

// Abort fails whatever run is active on the project.
func (s *Store) Abort(ctx context.Context, projectID, reason string) (Stage, bool, error) {
	return s.Fail(ctx, projectID, "", reason)
}

// Stats returns project counts grouped by stage.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT generation_stage, COUNT(1) FROM projects GROUP BY generation_stage`)
	if err != nil {
		return Stats{}, fmt.Errorf("project stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{ByStage: make(map[Stage]int)}
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return Stats{}, err
		}
		stats.ByStage[stage] = count
		stats.Total += count
		switch {
		case stage == StageComplete:
			stats.Complete += count
		case stage == StageFailed:
			stats.Failed += count
		case stage.IsActive():
			stats.Active += count
		}
	}
	return stats, rows.Err()
}
