package project

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const projectColumns = "id, owner_id, synopsis, genre, art_style, title, total_pages, generation_stage, progress_script, progress_characters, progress_storyboard, progress_preview, preview_only, story_analysis_json, script_json, run_id, access_token, failure_reason, last_heartbeat, created_at, updated_at"

func scanProject(scanner interface{ Scan(dest ...any) error }) (*Project, error) {
	var (
		p                Project
		genre            sql.NullString
		title            sql.NullString
		stageRaw         string
		previewOnly      int64
		analysisRaw      sql.NullString
		scriptRaw        sql.NullString
		failureReason    sql.NullString
		lastHeartbeatRaw sql.NullString
		createdRaw       string
		updatedRaw       string
	)

	if err := scanner.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Brief.Synopsis,
		&genre,
		&p.Brief.ArtStyle,
		&title,
		&p.TotalPages,
		&stageRaw,
		&p.Progress.Script,
		&p.Progress.Characters,
		&p.Progress.Storyboard,
		&p.Progress.Preview,
		&previewOnly,
		&analysisRaw,
		&scriptRaw,
		&p.RunID,
		&p.AccessToken,
		&failureReason,
		&lastHeartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	stage, ok := ParseStage(stageRaw)
	if !ok {
		return nil, fmt.Errorf("project %s: unknown stage %q", p.ID, stageRaw)
	}
	p.Stage = stage
	p.Brief.Genre = genre.String
	p.Title = title.String
	p.PreviewOnly = previewOnly != 0
	p.FailureReason = failureReason.String
	p.Progress = p.Progress.Clamped()

	if analysisRaw.Valid && analysisRaw.String != "" {
		var analysis StoryAnalysis
		if err := json.Unmarshal([]byte(analysisRaw.String), &analysis); err != nil {
			return nil, fmt.Errorf("project %s: decode story analysis: %w", p.ID, err)
		}
		p.StoryAnalysis = &analysis
	}
	if scriptRaw.Valid && scriptRaw.String != "" {
		var script Script
		if err := json.Unmarshal([]byte(scriptRaw.String), &script); err != nil {
			return nil, fmt.Errorf("project %s: decode script: %w", p.ID, err)
		}
		p.Script = &script
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		p.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		p.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			p.LastHeartbeat = &heartbeat
		}
	}
	return &p, nil
}

func scanProjects(rows *sql.Rows) ([]*Project, error) {
	defer rows.Close()
	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// nullableJSON encodes value, mapping nil pointers and empty collections to NULL.
func nullableJSON(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	switch string(data) {
	case "null", "{}", "[]":
		return nil, nil
	}
	return string(data), nil
}

func decodeJSONColumn(raw sql.NullString, dst any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
