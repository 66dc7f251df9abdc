package workers

import (
	"context"
	"strings"

	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/stage"
)

// CharactersWorker builds the cast from the script.
type CharactersWorker struct {
	base
}

type charactersPromptData struct {
	ArtStyle string
	Script   project.Script
	Names    []string
}

type castResponse struct {
	Characters []struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Expressions []string `json:"expressions"`
	} `json:"characters"`
}

// Run prompts the text model for character descriptions and assigns handles.
// Handles of characters committed by an earlier attempt are kept.
func (w *CharactersWorker) Run(ctx context.Context, in stage.Input, report stage.Reporter) (stage.Result, error) {
	script, err := scriptFor(w.base, in)
	if err != nil {
		return stage.Result{}, err
	}
	report.Report(ctx, 10)

	data := charactersPromptData{ArtStyle: in.Project.Brief.ArtStyle, Script: script, Names: scriptNames(in.Project, script)}
	var resp castResponse
	if err := w.complete(ctx, promptCharactersSystem, promptCharactersUser, data, &resp); err != nil {
		return stage.Result{}, err
	}

	existing := newCastIndex(in.Prior.Characters)
	taken := make(map[string]bool, len(resp.Characters))
	cast := make([]project.Character, 0, len(resp.Characters))
	for _, c := range resp.Characters {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		character := project.Character{
			Name:        name,
			Description: strings.TrimSpace(c.Description),
			Expressions: compactStrings(c.Expressions),
		}
		if prev, ok := existing.lookup(name); ok && !taken[prev.Handle] {
			character.ID = prev.ID
			character.Handle = prev.Handle
			character.ReferenceImages = prev.ReferenceImages
			taken[prev.Handle] = true
		} else {
			character.Handle = handleFor(name, taken)
		}
		cast = append(cast, character)
	}
	if len(cast) == 0 {
		return stage.Result{}, w.incomplete("no characters returned")
	}

	logging.WithContext(ctx, w.logger).Info("cast created",
		logging.String(logging.FieldEventType, "characters_complete"),
		logging.Int("characters", len(cast)),
	)
	report.Report(ctx, 100)
	return stage.Result{Output: resp, Characters: cast, Replace: true}, nil
}

// HealthCheck reports text model readiness.
func (w *CharactersWorker) HealthCheck(ctx context.Context) stage.Health {
	return w.textHealth(ctx)
}

func scriptFor(b base, in stage.Input) (project.Script, error) {
	if in.Project.Script != nil {
		return *in.Project.Script, nil
	}
	var script project.Script
	ok, err := in.Prior.Output(project.StageScript, &script)
	if err != nil || !ok {
		return project.Script{}, b.missingInput("script")
	}
	return script, nil
}

// scriptNames lists every character the analysis and script mention, in
// first-appearance order.
func scriptNames(p *project.Project, script project.Script) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		names = append(names, strings.TrimSpace(name))
	}
	if p.StoryAnalysis != nil {
		for _, name := range p.StoryAnalysis.Characters {
			add(name)
		}
	}
	for _, page := range script.Pages {
		for _, panel := range page.Panels {
			for _, name := range panel.Characters {
				add(name)
			}
			for _, line := range panel.Dialogue {
				add(line.Speaker)
			}
		}
	}
	return names
}
