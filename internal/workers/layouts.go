package workers

import (
	"context"
	"fmt"
	"math"
	"strings"

	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/stage"
)

// Page margins and gutters as fractions of the page width.
const (
	pageMargin = 0.04
	pageGutter = 0.02
)

// layoutTemplate arranges panels in rows; Rows holds the panel count per row.
type layoutTemplate struct {
	ID   string
	Rows []int
}

var layoutTemplates = map[int]layoutTemplate{
	1: {ID: "splash", Rows: []int{1}},
	2: {ID: "two-tier", Rows: []int{1, 1}},
	3: {ID: "feature-top", Rows: []int{1, 2}},
	4: {ID: "grid-4", Rows: []int{2, 2}},
	5: {ID: "five-panel", Rows: []int{2, 1, 2}},
	6: {ID: "grid-6", Rows: []int{2, 2, 2}},
}

func layoutFor(panels int) layoutTemplate {
	if panels < 1 {
		panels = 1
	}
	if panels > maxPanelsPerPage {
		panels = maxPanelsPerPage
	}
	return layoutTemplates[panels]
}

// frame computes absolute and relative geometry for every panel of a layout
// on a width x height page, in reading order.
func (l layoutTemplate) frame(width, height int) (absolute, relative []project.Rect) {
	w, h := float64(width), float64(height)
	margin := pageMargin * w
	gutter := pageGutter * w
	rows := len(l.Rows)
	rowHeight := (h - 2*margin - float64(rows-1)*gutter) / float64(rows)
	for r, cols := range l.Rows {
		colWidth := (w - 2*margin - float64(cols-1)*gutter) / float64(cols)
		y := margin + float64(r)*(rowHeight+gutter)
		for c := 0; c < cols; c++ {
			x := margin + float64(c)*(colWidth+gutter)
			abs := project.Rect{X: math.Round(x), Y: math.Round(y), Width: math.Round(colWidth), Height: math.Round(rowHeight)}
			absolute = append(absolute, abs)
			relative = append(relative, project.Rect{
				X:      roundFraction(abs.X / w),
				Y:      roundFraction(abs.Y / h),
				Width:  roundFraction(abs.Width / w),
				Height: roundFraction(abs.Height / h),
			})
		}
	}
	return absolute, relative
}

func roundFraction(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// LayoutsWorker lays out pages and panel geometry from the script.
type LayoutsWorker struct {
	base
}

type panelPromptData struct {
	ArtStyle    string
	Description string
	Characters  []project.Character
}

type layoutsOutput struct {
	Pages []layoutSummary `json:"pages"`
}

type layoutSummary struct {
	PageNumber int    `json:"pageNumber"`
	LayoutID   string `json:"layoutId"`
	Panels     int    `json:"panels"`
}

// Run computes one page per script page and one panel per script panel.
func (w *LayoutsWorker) Run(ctx context.Context, in stage.Input, report stage.Reporter) (stage.Result, error) {
	script, err := scriptFor(w.base, in)
	if err != nil {
		return stage.Result{}, err
	}
	if len(script.Pages) == 0 {
		return stage.Result{}, w.missingInput("script pages")
	}
	cast := newCastIndex(in.Prior.Characters)

	var (
		pages  []project.Page
		panels []project.Panel
		output layoutsOutput
	)
	for i, sp := range script.Pages {
		count := min(len(sp.Panels), maxPanelsPerPage)
		layout := layoutFor(count)
		page := project.Page{
			PageNumber: sp.PageNumber,
			Width:      w.pageWidth,
			Height:     w.pageHeight,
			LayoutID:   layout.ID,
		}
		pages = append(pages, page)
		absolute, relative := layout.frame(page.Width, page.Height)
		for idx := 0; idx < count; idx++ {
			scriptPanel := sp.Panels[idx]
			handles := cast.handles(append(append([]string{}, scriptPanel.Characters...), speakers(scriptPanel)...))
			prompt, err := w.panelPrompt(in.Project.Brief.ArtStyle, scriptPanel.Description, cast, handles)
			if err != nil {
				return stage.Result{}, err
			}
			panels = append(panels, project.Panel{
				PageNumber:       page.PageNumber,
				PanelIndex:       idx,
				Geometry:         absolute[idx],
				Relative:         relative[idx],
				Description:      scriptPanel.Description,
				Prompt:           prompt,
				CharacterHandles: handles,
			})
		}
		output.Pages = append(output.Pages, layoutSummary{PageNumber: page.PageNumber, LayoutID: layout.ID, Panels: count})
		report.Report(ctx, percentOf(i+1, len(script.Pages)))
	}

	logging.WithContext(ctx, w.logger).Info("pages laid out",
		logging.String(logging.FieldEventType, "layouts_complete"),
		logging.Int("pages", len(pages)),
		logging.Int("panels", len(panels)),
	)
	return stage.Result{Output: output, Pages: pages, Panels: panels, Replace: true}, nil
}

// HealthCheck always succeeds; layouts needs no upstream service.
func (w *LayoutsWorker) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(w.stage))
}

func (w *LayoutsWorker) panelPrompt(artStyle, description string, cast castIndex, handles []string) (string, error) {
	data := panelPromptData{ArtStyle: artStyle, Description: description}
	for _, handle := range handles {
		if ch, ok := cast.lookup(handle); ok {
			data.Characters = append(data.Characters, ch)
		}
	}
	prompt, err := w.render(promptPanel, data)
	if err != nil {
		return "", fmt.Errorf("panel prompt: %w", err)
	}
	return prompt, nil
}

func speakers(panel project.ScriptPanel) []string {
	out := make([]string, 0, len(panel.Dialogue))
	for _, line := range panel.Dialogue {
		if s := strings.TrimSpace(line.Speaker); s != "" {
			out = append(out, s)
		}
	}
	return out
}
