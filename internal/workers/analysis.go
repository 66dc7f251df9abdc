package workers

import (
	"context"
	"strings"

	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/stage"
)

// AnalysisWorker turns the brief into a structured story analysis.
type AnalysisWorker struct {
	base
}

type analysisPromptData struct {
	Synopsis   string
	Genre      string
	ArtStyle   string
	TotalPages int
}

// Run prompts the text model and validates the analysis.
func (w *AnalysisWorker) Run(ctx context.Context, in stage.Input, report stage.Reporter) (stage.Result, error) {
	p := in.Project
	logger := logging.WithContext(ctx, w.logger)
	report.Report(ctx, 10)

	var analysis project.StoryAnalysis
	data := analysisPromptData{
		Synopsis:   p.Brief.Synopsis,
		Genre:      p.Brief.Genre,
		ArtStyle:   p.Brief.ArtStyle,
		TotalPages: p.TotalPages,
	}
	if err := w.complete(ctx, promptAnalyzingSystem, promptAnalyzingUser, data, &analysis); err != nil {
		return stage.Result{}, err
	}

	analysis.Title = strings.TrimSpace(analysis.Title)
	analysis.Logline = strings.TrimSpace(analysis.Logline)
	if analysis.Title == "" {
		return stage.Result{}, w.incomplete("analysis has no title")
	}
	if len(analysis.Beats) == 0 {
		return stage.Result{}, w.incomplete("analysis has no story beats")
	}
	analysis.Characters = compactStrings(analysis.Characters)
	analysis.Themes = compactStrings(analysis.Themes)
	analysis.Beats = compactStrings(analysis.Beats)

	logger.Info("story analyzed",
		logging.String(logging.FieldEventType, "analysis_complete"),
		logging.String("title", analysis.Title),
		logging.Int("beats", len(analysis.Beats)),
		logging.Int("characters", len(analysis.Characters)),
	)
	report.Report(ctx, 100)
	return stage.Result{
		Output:        analysis,
		Title:         analysis.Title,
		StoryAnalysis: &analysis,
	}, nil
}

// HealthCheck reports text model readiness.
func (w *AnalysisWorker) HealthCheck(ctx context.Context) stage.Health {
	return w.textHealth(ctx)
}

func compactStrings(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
