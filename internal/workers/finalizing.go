package workers

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/services/imagegen"
	"comicforge/internal/stage"
)

// FinalizingWorker renders one preview image per page from its panels.
type FinalizingWorker struct {
	base
}

type pagePromptData struct {
	LayoutID   string
	ArtStyle   string
	PageNumber int
	Title      string
}

type finalizingOutput struct {
	Pages []finalPage `json:"pages"`
}

type finalPage struct {
	PageNumber int    `json:"pageNumber"`
	ImageURL   string `json:"imageUrl"`
}

// Run composes page previews for pages that have none.
func (w *FinalizingWorker) Run(ctx context.Context, in stage.Input, report stage.Reporter) (stage.Result, error) {
	if len(in.Prior.Pages) == 0 {
		return stage.Result{}, w.missingInput("pages")
	}
	pages := make([]project.Page, len(in.Prior.Pages))
	copy(pages, in.Prior.Pages)

	panelsByPage := make(map[int][]project.Panel)
	for _, panel := range in.Prior.Panels {
		panelsByPage[panel.PageNumber] = append(panelsByPage[panel.PageNumber], panel)
	}
	title := in.Project.Title

	type pageJob struct {
		page int
		req  imagegen.Request
	}
	var jobs []pageJob
	for i := range pages {
		if pages[i].ImageURL != "" {
			continue
		}
		panels := panelsByPage[pages[i].PageNumber]
		sort.Slice(panels, func(a, b int) bool { return panels[a].PanelIndex < panels[b].PanelIndex })
		refs := make([]string, 0, len(panels))
		for _, panel := range panels {
			if panel.ImageURL == "" {
				return stage.Result{}, w.missingInput("artwork for a panel on page " + strconv.Itoa(pages[i].PageNumber))
			}
			refs = append(refs, panel.ImageURL)
		}
		prompt, err := w.render(promptPage, pagePromptData{
			LayoutID:   pages[i].LayoutID,
			ArtStyle:   in.Project.Brief.ArtStyle,
			PageNumber: pages[i].PageNumber,
			Title:      title,
		})
		if err != nil {
			return stage.Result{}, err
		}
		jobs = append(jobs, pageJob{
			page: i,
			req:  imagegen.Request{Prompt: prompt, Width: pages[i].Width, Height: pages[i].Height, ReferenceURLs: refs},
		})
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			img, err := w.images.Generate(gctx, job.req)
			if err != nil {
				return err
			}
			mu.Lock()
			pages[job.page].ImageURL = img.URL
			done++
			pct := percentOf(done, len(jobs))
			mu.Unlock()
			report.Report(ctx, pct)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stage.Result{}, err
	}

	out := finalizingOutput{Pages: make([]finalPage, 0, len(pages))}
	for _, page := range pages {
		out.Pages = append(out.Pages, finalPage{PageNumber: page.PageNumber, ImageURL: page.ImageURL})
	}
	logging.WithContext(ctx, w.logger).Info("comic finalized",
		logging.String(logging.FieldEventType, "finalizing_complete"),
		logging.Int("pages", len(pages)),
		logging.Int("rendered", len(jobs)),
	)
	report.Report(ctx, 100)
	return stage.Result{Output: out, Pages: pages}, nil
}

// HealthCheck reports image model readiness.
func (w *FinalizingWorker) HealthCheck(ctx context.Context) stage.Health {
	return w.imageHealth(ctx)
}
