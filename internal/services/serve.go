// Package services wires the watchers, render pipeline, registry, fanout and
// HTTP server into the commands the CLI exposes.
package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/gstdots/internal/artifact"
	"github.com/conneroisu/gstdots/internal/config"
	"github.com/conneroisu/gstdots/internal/errors"
	"github.com/conneroisu/gstdots/internal/fanout"
	"github.com/conneroisu/gstdots/internal/logging"
	"github.com/conneroisu/gstdots/internal/metrics"
	"github.com/conneroisu/gstdots/internal/pipeline"
	"github.com/conneroisu/gstdots/internal/registry"
	"github.com/conneroisu/gstdots/internal/renderer"
	"github.com/conneroisu/gstdots/internal/server"
	"github.com/conneroisu/gstdots/internal/watcher"
)

// ServeService runs the live gallery.
type ServeService struct {
	config   *config.Config
	logger   logging.Logger
	renderer renderer.Renderer
}

// Option configures a service.
type Option func(*options)

type options struct {
	logger   logging.Logger
	renderer renderer.Renderer
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRenderer replaces the configured renderer command.
func WithRenderer(r renderer.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewNopLogger()
	}
	return o
}

// NewServeService creates a new serve service
func NewServeService(cfg *config.Config, opts ...Option) *ServeService {
	o := buildOptions(opts)
	return &ServeService{config: cfg, logger: o.logger, renderer: o.renderer}
}

// ServeOptions contains options for the serve process
type ServeOptions struct {
	// OnReady is called once the gallery is listening.
	OnReady func(ServerInfo)
}

// ServerInfo describes a running gallery.
type ServerInfo struct {
	URL       string
	SourceDir string
	OutputDir string
}

// NewRenderer builds the configured renderer, capped to the configured
// number of concurrent processes.
func NewRenderer(cfg config.RenderConfig) (renderer.Renderer, error) {
	cmd, err := renderer.NewCommand(cfg.Command, cfg.Args)
	if err != nil {
		return nil, err
	}
	return renderer.NewLimited(cmd, cfg.Workers), nil
}

// Layout returns the artifact layout from the output configuration.
func Layout(cfg config.OutputConfig) artifact.Layout {
	return artifact.Layout{Dir: config.ResolveOutputDir(cfg.Dir), ImageExt: cfg.ImageExt, PageExt: cfg.PageExt}
}

// Serve runs until ctx is done or a component fails. Watch failures at
// startup are returned immediately.
func (s *ServeService) Serve(ctx context.Context, opts ServeOptions) error {
	cfg := s.config

	r := s.renderer
	if r == nil {
		var err error
		if r, err = NewRenderer(cfg.Render); err != nil {
			return err
		}
	}

	layout := Layout(cfg.Output)
	if err := artifact.PrepareOutputDir(layout.Dir); err != nil {
		return err
	}

	m := metrics.New()
	hub := fanout.New(
		fanout.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		fanout.WithSendBuffer(cfg.Fanout.SendBuffer),
		fanout.WithConnectLimit(cfg.Fanout.ConnectRate, cfg.Fanout.ConnectBurst),
		fanout.WithLogger(s.logger),
		fanout.WithMetrics(m),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Fanout shutdown incomplete")
		}
	}()

	reg := registry.New(layout.Dir, registry.WithLogger(s.logger))
	pipe := pipeline.New(pipeline.Config{
		Layout:      layout,
		Template:    cfg.Render.Template,
		Placeholder: cfg.Render.Placeholder,
		Rerender:    cfg.Render.RerenderOnChange,
	}, r, pipeline.WithLogger(s.logger), pipeline.WithMetrics(m))

	// The output watcher starts first so no page written by the pipeline is missed.
	outWatcher, err := watcher.New(layout.Dir,
		watcher.WithFilter(watcher.ExtensionFilter(layout.PageExt)),
		watcher.WithFilter(watcher.NoHiddenFilter),
		watcher.WithSettleDelay(cfg.Source.SettleDelay),
		watcher.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}
	defer outWatcher.Stop()

	srcWatcher, err := watcher.New(cfg.Source.Dir,
		watcher.WithFilter(watcher.ExtensionFilter(cfg.Source.Extension)),
		watcher.WithFilter(watcher.NoHiddenFilter),
		watcher.WithSettleDelay(cfg.Source.SettleDelay),
		watcher.WithModified(cfg.Render.RerenderOnChange),
		watcher.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}
	defer srcWatcher.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if err := outWatcher.Start(gctx); err != nil {
		return err
	}
	if err := srcWatcher.Start(gctx); err != nil {
		return err
	}

	notifier := registry.NotifierFunc(func() {
		m.SetRegistryEntries(reg.Len())
		hub.Refresh()
	})

	srv := server.New(server.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		layout, reg, pipe, hub, server.WithLogger(s.logger), server.WithMetrics(m))

	g.Go(func() error {
		return pipe.Run(gctx, srcWatcher.Events())
	})
	g.Go(func() error {
		err := reg.Sync(gctx, outWatcher.Events(), notifier)
		if stderrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})

	if opts.OnReady != nil {
		g.Go(func() error {
			return waitReady(gctx, srv, func(addr string) {
				opts.OnReady(ServerInfo{
					URL:       "http://" + addr,
					SourceDir: srcWatcher.Dir(),
					OutputDir: outWatcher.Dir(),
				})
			})
		})
	}

	s.logger.Info(ctx, "Gallery started",
		"source", srcWatcher.Dir(), "output", outWatcher.Dir(),
		"renderer", cfg.Render.Command)

	if err := g.Wait(); err != nil {
		return errors.NewInternalError("ERR_SERVE", "gallery stopped", err)
	}
	return nil
}

func waitReady(ctx context.Context, srv *server.Server, ready func(addr string)) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if addr := srv.Addr(); addr != "" {
			ready(displayAddr(addr))
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// displayAddr replaces an unspecified listen host with localhost.
func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// URL is the address viewers should open for cfg.
func URL(cfg config.ServerConfig) string {
	return fmt.Sprintf("http://%s", displayAddr(net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))))
}
