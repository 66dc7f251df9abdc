package workers

import (
	"context"
	"fmt"
	"strings"

	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/stage"
)

// ScriptWorker writes the page-by-page script from the story analysis.
type ScriptWorker struct {
	base
}

type scriptPromptData struct {
	Analysis   project.StoryAnalysis
	TotalPages int
	MaxPanels  int
}

// Run prompts the text model and normalizes the script to the project's
// page count.
func (w *ScriptWorker) Run(ctx context.Context, in stage.Input, report stage.Reporter) (stage.Result, error) {
	analysis, err := w.analysis(in)
	if err != nil {
		return stage.Result{}, err
	}
	report.Report(ctx, 10)

	var script project.Script
	data := scriptPromptData{Analysis: analysis, TotalPages: in.Project.TotalPages, MaxPanels: maxPanelsPerPage}
	if err := w.complete(ctx, promptScriptSystem, promptScriptUser, data, &script); err != nil {
		return stage.Result{}, err
	}
	if err := w.normalize(&script, in.Project.TotalPages); err != nil {
		return stage.Result{}, err
	}
	if script.Title == "" {
		script.Title = analysis.Title
	}
	if script.Logline == "" {
		script.Logline = analysis.Logline
	}

	logging.WithContext(ctx, w.logger).Info("script written",
		logging.String(logging.FieldEventType, "script_complete"),
		logging.Int("pages", len(script.Pages)),
		logging.Int("panels", countScriptPanels(script)),
	)
	report.Report(ctx, 100)
	return stage.Result{Output: script, Title: script.Title, Script: &script}, nil
}

// HealthCheck reports text model readiness.
func (w *ScriptWorker) HealthCheck(ctx context.Context) stage.Health {
	return w.textHealth(ctx)
}

func (w *ScriptWorker) analysis(in stage.Input) (project.StoryAnalysis, error) {
	if in.Project.StoryAnalysis != nil {
		return *in.Project.StoryAnalysis, nil
	}
	var analysis project.StoryAnalysis
	ok, err := in.Prior.Output(project.StageAnalyzing, &analysis)
	if err != nil || !ok {
		return project.StoryAnalysis{}, w.missingInput("story analysis")
	}
	return analysis, nil
}

// normalize renumbers pages 1..n and bounds the panel count per page. A script
// shorter than the requested page count is rejected for another sample.
func (w *ScriptWorker) normalize(script *project.Script, totalPages int) error {
	script.Title = strings.TrimSpace(script.Title)
	script.Logline = strings.TrimSpace(script.Logline)
	pages := make([]project.ScriptPage, 0, len(script.Pages))
	for _, page := range script.Pages {
		panels := make([]project.ScriptPanel, 0, len(page.Panels))
		for _, panel := range page.Panels {
			panel.Description = strings.TrimSpace(panel.Description)
			if panel.Description == "" {
				continue
			}
			panel.Characters = compactStrings(panel.Characters)
			lines := panel.Dialogue[:0]
			for _, line := range panel.Dialogue {
				line.Text = strings.TrimSpace(line.Text)
				if line.Text == "" {
					continue
				}
				line.Speaker = strings.TrimSpace(line.Speaker)
				line.Type = normalizeBubbleType(line.Type)
				lines = append(lines, line)
			}
			panel.Dialogue = lines
			panels = append(panels, panel)
		}
		if len(panels) == 0 {
			continue
		}
		if len(panels) > maxPanelsPerPage {
			panels = panels[:maxPanelsPerPage]
		}
		page.Summary = strings.TrimSpace(page.Summary)
		page.Panels = panels
		pages = append(pages, page)
	}
	if len(pages) < totalPages {
		return w.incomplete(fmt.Sprintf("script has %d usable pages, want %d", len(pages), totalPages))
	}
	pages = pages[:totalPages]
	for i := range pages {
		pages[i].PageNumber = i + 1
	}
	script.Pages = pages
	return nil
}

func countScriptPanels(script project.Script) int {
	total := 0
	for _, page := range script.Pages {
		total += len(page.Panels)
	}
	return total
}

func normalizeBubbleType(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case project.BubbleThought:
		return project.BubbleThought
	case project.BubbleShout:
		return project.BubbleShout
	case project.BubbleWhisper:
		return project.BubbleWhisper
	default:
		return project.BubbleSpeech
	}
}
