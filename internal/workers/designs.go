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

// referenceViews are the model sheet views drawn for every character.
var referenceViews = []string{project.ViewFront, project.ViewProfile}

// DesignsWorker draws reference images for every character.
type DesignsWorker struct {
	base
}

type designPromptData struct {
	View        string
	Name        string
	Description string
	ArtStyle    string
}

type designJob struct {
	character int
	view      string
	prompt    string
}

type designsOutput struct {
	Generated int `json:"generated"`
	Reused    int `json:"reused"`
}

// Run generates the missing reference views concurrently.
func (w *DesignsWorker) Run(ctx context.Context, in stage.Input, report stage.Reporter) (stage.Result, error) {
	if len(in.Prior.Characters) == 0 {
		return stage.Result{}, w.missingInput("character cast")
	}
	cast := make([]project.Character, len(in.Prior.Characters))
	copy(cast, in.Prior.Characters)

	var jobs []designJob
	reused := 0
	for i := range cast {
		images := make(map[string]string, len(referenceViews))
		for view, url := range cast[i].ReferenceImages {
			images[view] = url
		}
		cast[i].ReferenceImages = images
		for _, view := range referenceViews {
			if images[view] != "" {
				reused++
				continue
			}
			prompt, err := w.render(promptDesign, designPromptData{
				View:        view,
				Name:        cast[i].Name,
				Description: cast[i].Description,
				ArtStyle:    in.Project.Brief.ArtStyle,
			})
			if err != nil {
				return stage.Result{}, err
			}
			jobs = append(jobs, designJob{character: i, view: view, prompt: prompt})
		}
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			img, err := w.images.Generate(gctx, imagegen.Request{Prompt: job.prompt, Width: 1024, Height: 1536})
			if err != nil {
				return err
			}
			mu.Lock()
			cast[job.character].ReferenceImages[job.view] = img.URL
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

	logging.WithContext(ctx, w.logger).Info("character designs ready",
		logging.String(logging.FieldEventType, "designs_complete"),
		logging.Int("generated", len(jobs)),
		logging.Int("reused", reused),
	)
	report.Report(ctx, 100)
	return stage.Result{
		Output:     designsOutput{Generated: len(jobs), Reused: reused},
		Characters: cast,
	}, nil
}

// HealthCheck reports image model readiness.
func (w *DesignsWorker) HealthCheck(ctx context.Context) stage.Health {
	return w.imageHealth(ctx)
}
