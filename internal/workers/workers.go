package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"comicforge/internal/config"
	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/services"
	"comicforge/internal/services/imagegen"
	"comicforge/internal/services/llm"
	"comicforge/internal/stage"
)

const (
	defaultConcurrency = 4
	maxPanelsPerPage   = 6
	maxBubblesPerPanel = 4
	healthTTL          = time.Minute
)

// TextGenerator produces structured JSON completions.
type TextGenerator interface {
	CompleteInto(ctx context.Context, systemPrompt, userPrompt string, target any) (string, error)
	HealthCheck(ctx context.Context) error
}

// ImageGenerator produces images from prompts.
type ImageGenerator interface {
	Generate(ctx context.Context, req imagegen.Request) (imagegen.Image, error)
	HealthCheck(ctx context.Context) error
}

// Options wires the workers to their generators.
type Options struct {
	Text        TextGenerator
	Images      ImageGenerator
	Catalog     *Catalog
	Concurrency int
	PageWidth   int
	PageHeight  int
	Logger      *slog.Logger
}

// New builds the workers for every stage from configuration.
func New(cfg *config.Config, logger *slog.Logger) ([]stage.Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("workers: config is required")
	}
	return Build(Options{
		Text:        llm.NewClient(llm.ConfigFrom(cfg)),
		Images:      imagegen.NewClient(imagegen.ConfigFrom(cfg)),
		Concurrency: cfg.Images.Concurrency,
		PageWidth:   cfg.Images.PageWidth,
		PageHeight:  cfg.Images.PageHeight,
		Logger:      logger,
	})
}

// Build constructs the workers, one per stage, in pipeline order.
func Build(opts Options) ([]stage.Worker, error) {
	if opts.Text == nil || opts.Images == nil {
		return nil, fmt.Errorf("workers: text and image generators are required")
	}
	if opts.Catalog == nil {
		catalog, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		opts.Catalog = catalog
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.PageWidth <= 0 || opts.PageHeight <= 0 {
		opts.PageWidth, opts.PageHeight = 1600, 2400
	}

	shared := &deps{
		text:        opts.Text,
		images:      opts.Images,
		catalog:     opts.Catalog,
		concurrency: opts.Concurrency,
		pageWidth:   opts.PageWidth,
		pageHeight:  opts.PageHeight,
		healthCache: cache.New(healthTTL, 2*healthTTL),
	}
	logger := opts.Logger
	mk := func(s project.Stage) base {
		return base{deps: shared, stage: s, logger: logging.NewComponentLogger(logger, "worker."+string(s))}
	}
	return []stage.Worker{
		&AnalysisWorker{base: mk(project.StageAnalyzing)},
		&ScriptWorker{base: mk(project.StageScript)},
		&CharactersWorker{base: mk(project.StageCharacters)},
		&DesignsWorker{base: mk(project.StageDesigns)},
		&LayoutsWorker{base: mk(project.StageLayouts)},
		&PanelsWorker{base: mk(project.StagePanels)},
		&DialogueWorker{base: mk(project.StageDialogue)},
		&FinalizingWorker{base: mk(project.StageFinalizing)},
	}, nil
}

type deps struct {
	text        TextGenerator
	images      ImageGenerator
	catalog     *Catalog
	concurrency int
	pageWidth   int
	pageHeight  int
	// healthCache caches generator health so status polling does not hit upstream.
	healthCache *cache.Cache
}

type base struct {
	*deps
	stage  project.Stage
	logger *slog.Logger
}

func (b base) Stage() project.Stage { return b.stage }

func (b base) cachedHealth(ctx context.Context, key string, check func(context.Context) error) stage.Health {
	name := string(b.stage)
	if cached, ok := b.healthCache.Get(key); ok {
		if err, _ := cached.(error); err != nil {
			return stage.Unhealthy(name, err.Error())
		}
		return stage.Healthy(name)
	}
	err := check(ctx)
	if err != nil {
		b.healthCache.SetDefault(key, err)
		return stage.Unhealthy(name, err.Error())
	}
	b.healthCache.SetDefault(key, nil)
	return stage.Healthy(name)
}

func (b base) textHealth(ctx context.Context) stage.Health {
	return b.cachedHealth(ctx, "text", b.text.HealthCheck)
}

func (b base) imageHealth(ctx context.Context) stage.Health {
	return b.cachedHealth(ctx, "images", b.images.HealthCheck)
}

// complete renders the stage's system and user prompts and decodes the reply.
func (b base) complete(ctx context.Context, systemName, userName string, data any, target any) error {
	system, err := b.catalog.Render(systemName, data)
	if err != nil {
		return services.Wrap(services.ErrInternal, string(b.stage), "render prompt", "", err)
	}
	user, err := b.catalog.Render(userName, data)
	if err != nil {
		return services.Wrap(services.ErrInternal, string(b.stage), "render prompt", "", err)
	}
	if _, err := b.text.CompleteInto(ctx, system, user, target); err != nil {
		return err
	}
	return nil
}

func (b base) render(name string, data any) (string, error) {
	out, err := b.catalog.Render(name, data)
	if err != nil {
		return "", services.Wrap(services.ErrInternal, string(b.stage), "render prompt", "", err)
	}
	return out, nil
}

// incomplete reports model output that parsed but is unusable.
func (b base) incomplete(message string) error {
	return services.Wrap(services.ErrFatal, string(b.stage), "validate output", message, nil)
}

// missingInput reports that an earlier stage's output is absent.
func (b base) missingInput(what string) error {
	return services.Wrap(services.ErrFatal, string(b.stage), "load input", what+" is missing", nil)
}

func percentOf(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
