package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Completion is everything one successful stage commits.
type Completion struct {
	ProjectID string
	RunID     string
	Stage     Stage
	Next      Stage

	// Group and GroupValue raise the stage's progress counter. An empty group
	// leaves progress untouched.
	Group      Group
	GroupValue int

	// Output is the raw JSON payload of the stage.
	Output string

	Title         string
	StoryAnalysis *StoryAnalysis
	Script        *Script

	Characters []Character
	Pages      []Page
	Panels     []Panel

	// Replace prunes characters, pages, and panels absent from this completion
	// for each entity kind the completion carries.
	Replace bool
}

// CompleteStage commits a stage's output, entities, and progress and advances
// the project to the next stage in one transaction. It fails with ErrStaleRun
// when the project is no longer on the given run and stage.
func (s *Store) CompleteStage(ctx context.Context, c Completion) error {
	if !c.Stage.IsWorkerStage() {
		return fmt.Errorf("complete stage: %q is not a worker stage", c.Stage)
	}
	if _, ok := ParseStage(string(c.Next)); !ok || c.Next == StageQueued {
		return fmt.Errorf("complete stage: invalid next stage %q", c.Next)
	}
	analysisJSON, err := nullableJSON(c.StoryAnalysis)
	if err != nil {
		return fmt.Errorf("encode story analysis: %w", err)
	}
	scriptJSON, err := nullableJSON(c.Script)
	if err != nil {
		return fmt.Errorf("encode script: %w", err)
	}

	progressSet := ""
	args := []any{c.Next}
	if c.Group != "" {
		column, ok := c.Group.column()
		if !ok {
			return fmt.Errorf("complete stage: unknown group %q", c.Group)
		}
		progressSet = ", " + column + " = MAX(" + column + ", ?)"
		args = append(args, ClampPercent(c.GroupValue))
	}
	now := timestamp(time.Now())
	args = append(args,
		nullableString(c.Title),
		analysisJSON,
		scriptJSON,
		boolToInt(c.Next == StageComplete),
		now,
		c.ProjectID,
		c.RunID,
		c.Stage,
	)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET generation_stage = ?`+progressSet+`,
                 title = COALESCE(?, title),
                 story_analysis_json = COALESCE(?, story_analysis_json),
                 script_json = COALESCE(?, script_json),
                 preview_only = CASE WHEN ? = 1 THEN 0 ELSE preview_only END,
                 updated_at = ?
             WHERE id = ? AND run_id = ? AND generation_stage = ?`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("advance project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("complete %s for %s: %w", c.Stage, c.ProjectID, ErrStaleRun)
		}

		payload := c.Output
		if payload == "" {
			payload = "{}"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_outputs (project_id, stage, payload_json, updated_at) VALUES (?, ?, ?, ?)
             ON CONFLICT(project_id, stage) DO UPDATE SET payload_json = excluded.payload_json, updated_at = excluded.updated_at`,
			c.ProjectID, c.Stage, payload, now,
		); err != nil {
			return fmt.Errorf("upsert stage output: %w", err)
		}

		if err := upsertCharacters(ctx, tx, c.ProjectID, c.Characters, c.Replace); err != nil {
			return err
		}
		if err := upsertPages(ctx, tx, c.ProjectID, c.Pages, c.Replace); err != nil {
			return err
		}
		return upsertPanels(ctx, tx, c.ProjectID, c.Panels, c.Replace)
	})
}

func upsertCharacters(ctx context.Context, tx *sql.Tx, projectID string, characters []Character, replace bool) error {
	if len(characters) == 0 {
		return nil
	}
	handles := make([]any, 0, len(characters)+1)
	handles = append(handles, projectID)
	for i, ch := range characters {
		if ch.Handle == "" {
			return fmt.Errorf("upsert character %q: handle is required", ch.Name)
		}
		id := ch.ID
		if id == "" {
			id = uuid.NewString()
		}
		images, err := nullableJSON(ch.ReferenceImages)
		if err != nil {
			return fmt.Errorf("encode reference images: %w", err)
		}
		expressions, err := nullableJSON(ch.Expressions)
		if err != nil {
			return fmt.Errorf("encode expressions: %w", err)
		}
		// The row id stays stable across re-runs; the handle is the identity.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO characters (id, project_id, handle, name, description, reference_images_json, expressions_json, position)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(project_id, handle) DO UPDATE SET
                 name = excluded.name,
                 description = excluded.description,
                 reference_images_json = excluded.reference_images_json,
                 expressions_json = excluded.expressions_json,
                 position = excluded.position`,
			id, projectID, ch.Handle, ch.Name, nullableString(ch.Description), images, expressions, i,
		); err != nil {
			return fmt.Errorf("upsert character %s: %w", ch.Handle, err)
		}
		handles = append(handles, ch.Handle)
	}
	if !replace {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM characters WHERE project_id = ? AND handle NOT IN (`+makePlaceholders(len(handles)-1)+`)`,
		handles...,
	); err != nil {
		return fmt.Errorf("prune characters: %w", err)
	}
	return nil
}

func upsertPages(ctx context.Context, tx *sql.Tx, projectID string, pages []Page, replace bool) error {
	if len(pages) == 0 {
		return nil
	}
	numbers := make([]any, 0, len(pages)+1)
	numbers = append(numbers, projectID)
	for _, page := range pages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pages (project_id, page_number, width, height, layout_id, image_url)
             VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT(project_id, page_number) DO UPDATE SET
                 width = excluded.width,
                 height = excluded.height,
                 layout_id = excluded.layout_id,
                 image_url = COALESCE(excluded.image_url, pages.image_url)`,
			projectID, page.PageNumber, page.Width, page.Height, page.LayoutID, nullableString(page.ImageURL),
		); err != nil {
			return fmt.Errorf("upsert page %d: %w", page.PageNumber, err)
		}
		numbers = append(numbers, page.PageNumber)
	}
	if !replace {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pages WHERE project_id = ? AND page_number NOT IN (`+makePlaceholders(len(numbers)-1)+`)`,
		numbers...,
	); err != nil {
		return fmt.Errorf("prune pages: %w", err)
	}
	return nil
}

func upsertPanels(ctx context.Context, tx *sql.Tx, projectID string, panels []Panel, replace bool) error {
	if len(panels) == 0 {
		return nil
	}
	keep := make(map[int][]any)
	for _, panel := range panels {
		geometry, err := nullableJSON(panel.Geometry)
		if err != nil {
			return fmt.Errorf("encode panel geometry: %w", err)
		}
		relative, err := nullableJSON(panel.Relative)
		if err != nil {
			return fmt.Errorf("encode panel relative geometry: %w", err)
		}
		handles, err := nullableJSON(panel.CharacterHandles)
		if err != nil {
			return fmt.Errorf("encode panel characters: %w", err)
		}
		bubbles, err := nullableJSON(panel.Bubbles)
		if err != nil {
			return fmt.Errorf("encode panel bubbles: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO panels (project_id, page_number, panel_index, geometry_json, relative_json, description, prompt, character_handles_json, image_url, bubbles_json)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(project_id, page_number, panel_index) DO UPDATE SET
                 geometry_json = excluded.geometry_json,
                 relative_json = excluded.relative_json,
                 description = excluded.description,
                 prompt = excluded.prompt,
                 character_handles_json = excluded.character_handles_json,
                 image_url = COALESCE(excluded.image_url, panels.image_url),
                 bubbles_json = COALESCE(excluded.bubbles_json, panels.bubbles_json)`,
			projectID, panel.PageNumber, panel.PanelIndex, orEmptyObject(geometry), orEmptyObject(relative),
			nullableString(panel.Description), nullableString(panel.Prompt), handles, nullableString(panel.ImageURL), bubbles,
		); err != nil {
			return fmt.Errorf("upsert panel %d/%d: %w", panel.PageNumber, panel.PanelIndex, err)
		}
		keep[panel.PageNumber] = append(keep[panel.PageNumber], panel.PanelIndex)
	}
	if !replace {
		return nil
	}
	pages := make([]any, 0, len(keep)+1)
	pages = append(pages, projectID)
	for pageNumber, indexes := range keep {
		args := append([]any{projectID, pageNumber}, indexes...)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM panels WHERE project_id = ? AND page_number = ? AND panel_index NOT IN (`+makePlaceholders(len(indexes))+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("prune panels on page %d: %w", pageNumber, err)
		}
		pages = append(pages, pageNumber)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM panels WHERE project_id = ? AND page_number NOT IN (`+makePlaceholders(len(pages)-1)+`)`,
		pages...,
	); err != nil {
		return fmt.Errorf("prune panels: %w", err)
	}
	return nil
}

func orEmptyObject(value any) any {
	if value == nil {
		return "{}"
	}
	return value
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Characters returns the project's cast in creation order.
func (s *Store) Characters(ctx context.Context, projectID string) ([]Character, error) {
	return readCharacters(ensureContext(ctx), s.db, projectID)
}

// Pages returns the project's pages by page number.
func (s *Store) Pages(ctx context.Context, projectID string) ([]Page, error) {
	return readPages(ensureContext(ctx), s.db, projectID)
}

// Panels returns the project's panels ordered by page and index.
func (s *Store) Panels(ctx context.Context, projectID string) ([]Panel, error) {
	return readPanels(ensureContext(ctx), s.db, projectID)
}

func readCharacters(ctx context.Context, q querier, projectID string) ([]Character, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, handle, name, description, reference_images_json, expressions_json
         FROM characters WHERE project_id = ? ORDER BY position, handle`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query characters: %w", err)
	}
	defer rows.Close()

	var characters []Character
	for rows.Next() {
		var (
			ch          Character
			description sql.NullString
			images      sql.NullString
			expressions sql.NullString
		)
		if err := rows.Scan(&ch.ID, &ch.Handle, &ch.Name, &description, &images, &expressions); err != nil {
			return nil, err
		}
		ch.ProjectID = projectID
		ch.Description = description.String
		if err := decodeJSONColumn(images, &ch.ReferenceImages); err != nil {
			return nil, fmt.Errorf("character %s: decode reference images: %w", ch.Handle, err)
		}
		if err := decodeJSONColumn(expressions, &ch.Expressions); err != nil {
			return nil, fmt.Errorf("character %s: decode expressions: %w", ch.Handle, err)
		}
		characters = append(characters, ch)
	}
	return characters, rows.Err()
}

func readPages(ctx context.Context, q querier, projectID string) ([]Page, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT page_number, width, height, layout_id, image_url FROM pages WHERE project_id = ? ORDER BY page_number`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var (
			page     Page
			imageURL sql.NullString
		)
		if err := rows.Scan(&page.PageNumber, &page.Width, &page.Height, &page.LayoutID, &imageURL); err != nil {
			return nil, err
		}
		page.ImageURL = imageURL.String
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

func readPanels(ctx context.Context, q querier, projectID string) ([]Panel, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT page_number, panel_index, geometry_json, relative_json, description, prompt, character_handles_json, image_url, bubbles_json
         FROM panels WHERE project_id = ? ORDER BY page_number, panel_index`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query panels: %w", err)
	}
	defer rows.Close()

	var panels []Panel
	for rows.Next() {
		var (
			panel       Panel
			geometry    sql.NullString
			relative    sql.NullString
			description sql.NullString
			prompt      sql.NullString
			handles     sql.NullString
			imageURL    sql.NullString
			bubbles     sql.NullString
		)
		if err := rows.Scan(&panel.PageNumber, &panel.PanelIndex, &geometry, &relative, &description, &prompt, &handles, &imageURL, &bubbles); err != nil {
			return nil, err
		}
		panel.Description = description.String
		panel.Prompt = prompt.String
		panel.ImageURL = imageURL.String
		for _, column := range []struct {
			raw sql.NullString
			dst any
		}{
			{geometry, &panel.Geometry},
			{relative, &panel.Relative},
			{handles, &panel.CharacterHandles},
			{bubbles, &panel.Bubbles},
		} {
			if err := decodeJSONColumn(column.raw, column.dst); err != nil {
				return nil, fmt.Errorf("panel %d/%d: %w", panel.PageNumber, panel.PanelIndex, err)
			}
		}
		panels = append(panels, panel)
	}
	return panels, rows.Err()
}

// StageOutputs returns the committed payload of every stage of the current run.
func (s *Store) StageOutputs(ctx context.Context, projectID string) (map[Stage]StageOutput, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT stage, payload_json, updated_at FROM stage_outputs WHERE project_id = ?`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage outputs: %w", err)
	}
	defer rows.Close()

	outputs := make(map[Stage]StageOutput)
	for rows.Next() {
		var (
			out       StageOutput
			updatedAt string
		)
		if err := rows.Scan(&out.Stage, &out.Payload, &updatedAt); err != nil {
			return nil, err
		}
		if ts, err := parseTimeString(updatedAt); err == nil {
			out.UpdatedAt = ts
		}
		outputs[out.Stage] = out
	}
	return outputs, rows.Err()
}

// Snapshot is a consistent read of a project and its entities.
type Snapshot struct {
	Project    *Project
	Characters []Character
	Pages      []Page
	Panels     []Panel
}

// Snapshot loads the project and its entities inside one read transaction so
// a concurrent stage commit is observed entirely or not at all.
func (s *Store) Snapshot(ctx context.Context, projectID string) (*Snapshot, error) {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot project: %w", err)
	}
	snap := &Snapshot{Project: p}
	if snap.Characters, err = readCharacters(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if snap.Pages, err = readPages(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if snap.Panels, err = readPanels(ctx, tx, projectID); err != nil {
		return nil, err
	}
	return snap, nil
}
