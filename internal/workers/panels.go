package workers

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/services/imagegen"
	"comicforge/internal/stage"
)

// PanelsWorker draws the artwork for every panel.
type PanelsWorker struct {
	base
}

type panelsOutput struct {
	Generated int `json:"generated"`
	Reused    int `json:"reused"`
}

// Run generates images for panels that have none, using the reference images
// of the characters in frame.
func (w *PanelsWorker) Run(ctx context.Context, in stage.Input, report stage.Reporter) (stage.Result, error) {
	if len(in.Prior.Panels) == 0 {
		return stage.Result{}, w.missingInput("panel layout")
	}
	panels := make([]project.Panel, len(in.Prior.Panels))
	copy(panels, in.Prior.Panels)
	cast := newCastIndex(in.Prior.Characters)

	var pending []int
	for i, panel := range panels {
		if panel.ImageURL == "" {
			pending = append(pending, i)
		}
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, i := range pending {
		panel := panels[i]
		req := imagegen.Request{
			Prompt:        panel.Prompt,
			Width:         int(panel.Geometry.Width),
			Height:        int(panel.Geometry.Height),
			ReferenceURLs: references(cast, panel.CharacterHandles),
		}
		if req.Prompt == "" {
			req.Prompt = panel.Description
		}
		g.Go(func() error {
			img, err := w.images.Generate(gctx, req)
			if err != nil {
				return err
			}
			mu.Lock()
			panels[i].ImageURL = img.URL
			done++
			pct := percentOf(done, len(pending))
			mu.Unlock()
			report.Report(ctx, pct)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stage.Result{}, err
	}

	logging.WithContext(ctx, w.logger).Info("panels drawn",
		logging.String(logging.FieldEventType, "panels_complete"),
		logging.Int("generated", len(pending)),
		logging.Int("reused", len(panels)-len(pending)),
	)
	report.Report(ctx, 100)
	return stage.Result{
		Output: panelsOutput{Generated: len(pending), Reused: len(panels) - len(pending)},
		Panels: panels,
	}, nil
}

// HealthCheck reports image model readiness.
func (w *PanelsWorker) HealthCheck(ctx context.Context) stage.Health {
	return w.imageHealth(ctx)
}

func references(cast castIndex, handles []string) []string {
	var refs []string
	for _, handle := range handles {
		ch, ok := cast.lookup(handle)
		if !ok {
			continue
		}
		if url := ch.PrimaryImage(); url != "" {
			refs = append(refs, url)
		}
	}
	return refs
}
