package api

import (
	"slices"
	"time"

	"comicforge/internal/progress"
	"comicforge/internal/project"
)

// FromProject converts a project record to its summary representation.
func FromProject(p *project.Project) ProjectSummary {
	if p == nil {
		return ProjectSummary{}
	}
	return ProjectSummary{
		ID:          p.ID,
		Title:       p.Title,
		Synopsis:    p.Brief.Synopsis,
		Genre:       p.Brief.Genre,
		ArtStyle:    p.Brief.ArtStyle,
		TotalPages:  p.TotalPages,
		Status:      string(p.Stage),
		Progress:    progress.Calculate(p.Progress),
		CurrentStep: progress.CurrentStep(p.Stage),
		PreviewOnly: p.PreviewOnly,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromSnapshot builds the polling projection of a snapshot.
func FromSnapshot(snap *project.Snapshot) GenerationProgress {
	if snap == nil || snap.Project == nil {
		return GenerationProgress{}
	}
	p := snap.Project
	clamped := p.Progress.Clamped()
	out := GenerationProgress{
		Status:      string(p.Stage),
		Stage:       string(p.Stage),
		Progress:    progress.Calculate(p.Progress),
		CurrentStep: progress.CurrentStep(p.Stage),
		Groups: GroupProgress{
			Script:     clamped.Script,
			Characters: clamped.Characters,
			Storyboard: clamped.Storyboard,
			Preview:    clamped.Preview,
		},
	}

	if p.Script != nil {
		preview := &ScriptPreview{Title: p.Script.Title, Logline: p.Script.Logline, Pages: make([]PageSummary, 0, len(p.Script.Pages))}
		if preview.Title == "" {
			preview.Title = p.Title
		}
		for _, page := range p.Script.Pages {
			preview.Pages = append(preview.Pages, PageSummary{
				PageNumber: page.PageNumber,
				Summary:    page.Summary,
				Panels:     len(page.Panels),
			})
		}
		out.Script = preview
	}

	for _, c := range snap.Characters {
		out.Characters = append(out.Characters, CharacterPreview{
			ID:       c.ID,
			Name:     c.Name,
			Handle:   c.Handle,
			ImageURL: c.PrimaryImage(),
		})
	}

	for i, panel := range orderedPanels(snap.Panels) {
		out.Storyboard = append(out.Storyboard, StoryboardPanel{
			PanelNumber: i + 1,
			PageNumber:  panel.PageNumber,
			Description: panel.Description,
			ImageURL:    panel.ImageURL,
		})
	}

	for _, page := range orderedPages(snap.Pages) {
		out.PreviewPages = append(out.PreviewPages, PreviewPage{
			PageNumber: page.PageNumber,
			ImageURL:   page.ImageURL,
			Ready:      page.ImageURL != "",
		})
	}
	return out
}

// FromSnapshotPreview builds the full detail of a snapshot limited to the
// first maxPages pages. A non-positive maxPages returns every page.
func FromSnapshotPreview(snap *project.Snapshot, maxPages int) ProjectPreview {
	if snap == nil || snap.Project == nil {
		return ProjectPreview{}
	}
	out := ProjectPreview{
		Project:    FromProject(snap.Project),
		Characters: make([]Character, 0, len(snap.Characters)),
		Pages:      []Page{},
		TotalPages: snap.Project.TotalPages,
	}
	for _, c := range snap.Characters {
		out.Characters = append(out.Characters, Character{
			ID:              c.ID,
			Name:            c.Name,
			Handle:          c.Handle,
			Description:     c.Description,
			ReferenceImages: c.ReferenceImages,
			Expressions:     c.Expressions,
		})
	}

	byPage := make(map[int][]Panel)
	for _, panel := range orderedPanels(snap.Panels) {
		byPage[panel.PageNumber] = append(byPage[panel.PageNumber], fromPanel(panel))
	}
	for _, page := range orderedPages(snap.Pages) {
		if maxPages > 0 && len(out.Pages) >= maxPages {
			break
		}
		panels := byPage[page.PageNumber]
		if panels == nil {
			panels = []Panel{}
		}
		out.Pages = append(out.Pages, Page{
			PageNumber: page.PageNumber,
			Width:      page.Width,
			Height:     page.Height,
			LayoutID:   page.LayoutID,
			ImageURL:   page.ImageURL,
			Panels:     panels,
		})
	}
	return out
}

func fromPanel(p project.Panel) Panel {
	bubbles := make([]SpeechBubble, 0, len(p.Bubbles))
	for _, b := range p.Bubbles {
		bubbles = append(bubbles, SpeechBubble{
			Text:     b.Text,
			Type:     b.Type,
			Speaker:  b.Speaker,
			Position: fromRect(b.Position),
			Tail:     b.Tail,
		})
	}
	return Panel{
		PanelIndex:       p.PanelIndex,
		Geometry:         fromRect(p.Geometry),
		Relative:         fromRect(p.Relative),
		Description:      p.Description,
		Prompt:           p.Prompt,
		CharacterHandles: p.CharacterHandles,
		ImageURL:         p.ImageURL,
		Bubbles:          bubbles,
	}
}

func fromRect(r project.Rect) Rect {
	return Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

func orderedPages(pages []project.Page) []project.Page {
	sorted := slices.Clone(pages)
	slices.SortFunc(sorted, func(a, b project.Page) int { return a.PageNumber - b.PageNumber })
	return sorted
}

func orderedPanels(panels []project.Panel) []project.Panel {
	sorted := slices.Clone(panels)
	slices.SortFunc(sorted, func(a, b project.Panel) int {
		if a.PageNumber != b.PageNumber {
			return a.PageNumber - b.PageNumber
		}
		return a.PanelIndex - b.PanelIndex
	})
	return sorted
}
