package services

import (
	"context"
	"os"

	"github.com/conneroisu/gstdots/internal/config"
	"github.com/conneroisu/gstdots/internal/errors"
	"github.com/conneroisu/gstdots/internal/logging"
	"github.com/conneroisu/gstdots/internal/pipeline"
	"github.com/conneroisu/gstdots/internal/renderer"
)

// RenderService renders description files once, without watching or serving.
type RenderService struct {
	config   *config.Config
	logger   logging.Logger
	renderer renderer.Renderer
}

// NewRenderService creates a new render service
func NewRenderService(cfg *config.Config, opts ...Option) *RenderService {
	o := buildOptions(opts)
	return &RenderService{config: cfg, logger: o.logger, renderer: o.renderer}
}

// RenderResult reports the outcome for one description file.
type RenderResult struct {
	Source string
	Image  string
	Page   string
	Err    error
}

// Render renders every file into the output directory, which is created but
// not cleared. A failing file does not stop the others; the returned error
// reports that at least one failed.
func (s *RenderService) Render(ctx context.Context, files []string) ([]RenderResult, error) {
	r := s.renderer
	if r == nil {
		var err error
		if r, err = NewRenderer(s.config.Render); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(s.config.Output.Dir, 0o755); err != nil {
		return nil, errors.NewIOError("ERR_OUTPUT_DIR", "failed to create output directory", err).
			WithPath(s.config.Output.Dir)
	}

	pipe := pipeline.New(pipeline.Config{
		Layout:      Layout(s.config.Output),
		Template:    s.config.Render.Template,
		Placeholder: s.config.Render.Placeholder,
	}, r, pipeline.WithLogger(s.logger))

	results := make([]RenderResult, 0, len(files))
	failed := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		pair, err := pipe.RenderFile(ctx, file)
		results = append(results, RenderResult{Source: file, Image: pair.Image, Page: pair.Page, Err: err})
		if err != nil {
			failed++
			s.logger.Error(ctx, err, "Render failed", "source", file)
			continue
		}
		s.logger.Info(ctx, "Rendered graph", "source", file, "page", pair.Page)
	}

	if failed > 0 {
		return results, errors.NewRenderError("ERR_RENDER_BATCH",
			"some graphs failed to render", nil)
	}
	return results, nil
}
