// Package pipeline turns source-directory events into artifact files: each
// description file gets an image from the renderer and a wrapper page from the
// template. Pipeline state is owned by a single goroutine.
package pipeline

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/conneroisu/gstdots/internal/artifact"
	"github.com/conneroisu/gstdots/internal/errors"
	"github.com/conneroisu/gstdots/internal/logging"
	"github.com/conneroisu/gstdots/internal/metrics"
	"github.com/conneroisu/gstdots/internal/renderer"
	"github.com/conneroisu/gstdots/internal/watcher"
)

// State is the lifecycle position of one description file.
type State int

const (
	StateAbsent State = iota
	StateRendering
	StateRendered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateRendering:
		return "rendering"
	case StateRendered:
		return "rendered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status describes one tracked description file.
type Status struct {
	Path  string `json:"path"`
	Image string `json:"image"`
	Page  string `json:"page"`
	State State  `json:"state"`
}

// Config holds what the pipeline needs to produce artifacts.
type Config struct {
	Layout artifact.Layout
	// Template is the wrapper page path; empty selects the built-in page.
	Template    string
	Placeholder string
	// Rerender re-renders a file on Modified events.
	Rerender bool
}

type entry struct {
	pair   artifact.Pair
	gen    uint64
	state  State
	cancel context.CancelFunc
}

type completion struct {
	path   string
	gen    uint64
	tmp    string
	result renderer.Result
}

// Pipeline is the render actor.
type Pipeline struct {
	config   Config
	renderer renderer.Renderer
	logger   logging.Logger
	metrics  *metrics.Metrics

	// owned by Run
	entries  map[string]*entry
	gen      uint64
	inflight int
	done     chan completion

	statusMu sync.RWMutex
	status   map[string]Status
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline that renders with r.
func New(config Config, r renderer.Renderer, opts ...Option) *Pipeline {
	if config.Placeholder == "" {
		config.Placeholder = artifact.DefaultPlaceholder
	}
	p := &Pipeline{
		config:   config,
		renderer: r,
		entries:  make(map[string]*entry),
		done:     make(chan completion),
		status:   make(map[string]Status),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewNopLogger()
	}
	p.logger = p.logger.WithComponent("pipeline")
	return p
}

// Run consumes events until ctx is done, or until events is closed and every
// started render has completed. Failures are logged and never stop the loop.
func (p *Pipeline) Run(ctx context.Context, events <-chan watcher.Event) error {
	defer p.cancelAll()

	for events != nil || p.inflight > 0 {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.handle(ctx, ev)
		case c := <-p.done:
			p.inflight--
			p.complete(ctx, c)
		}
	}
	return nil
}

func (p *Pipeline) handle(ctx context.Context, ev watcher.Event) {
	switch ev.Op {
	case watcher.Added:
		p.added(ctx, ev.Path)
	case watcher.Removed:
		p.removed(ctx, ev.Path)
	case watcher.Modified:
		if !p.config.Rerender {
			return
		}
		if _, ok := p.entries[ev.Path]; ok {
			p.added(ctx, ev.Path)
		}
	}
}

func (p *Pipeline) added(ctx context.Context, path string) {
	e, ok := p.entries[path]
	if !ok {
		e = &entry{pair: p.config.Layout.PairFor(path)}
		p.entries[path] = e
	}
	if e.cancel != nil {
		e.cancel()
	}

	p.gen++
	e.gen = p.gen
	e.state = StateRendering
	p.publish(path, e)

	p.startRender(ctx, path, e)

	err := artifact.WritePage(e.pair, p.config.Template, p.config.Placeholder)
	p.metrics.PageWritten(err)
	if err != nil {
		p.logger.Error(ctx, err, "Failed to write viewer page", "source", path, "page", e.pair.Page)
		return
	}
	p.logger.Debug(ctx, "Wrote viewer page", "page", e.pair.Page)
}

func (p *Pipeline) startRender(ctx context.Context, path string, e *entry) {
	rctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	tmp := artifact.TempImagePath(e.pair, e.gen)
	gen := e.gen
	result := renderer.Async(rctx, p.renderer, path, tmp)
	p.inflight++

	go func() {
		res := <-result
		select {
		case p.done <- completion{path: path, gen: gen, tmp: tmp, result: res}:
		case <-ctx.Done():
			os.Remove(tmp)
		}
	}()
}

func (p *Pipeline) complete(ctx context.Context, c completion) {
	e, ok := p.entries[c.path]
	if !ok || e.gen != c.gen {
		// The description was removed or re-rendered while this render ran.
		os.Remove(c.tmp)
		p.metrics.RenderFinished(metrics.ResultDiscarded, c.result.Duration)
		p.logger.Debug(ctx, "Discarded stale render", "source", c.path)
		return
	}
	e.cancel()
	e.cancel = nil

	if c.result.Err != nil {
		os.Remove(c.tmp)
		e.state = StateFailed
		p.publish(c.path, e)
		p.metrics.RenderFinished(metrics.ResultFailure, c.result.Duration)
		p.logger.Error(ctx, c.result.Err, "Render failed", "source", c.path)
		return
	}

	if err := os.Rename(c.tmp, e.pair.Image); err != nil {
		os.Remove(c.tmp)
		e.state = StateFailed
		p.publish(c.path, e)
		p.metrics.RenderFinished(metrics.ResultFailure, c.result.Duration)
		p.logger.Error(ctx, errors.NewIOError("ERR_IMAGE_WRITE", "failed to move rendered image into place", err).
			WithPath(e.pair.Image), "Render failed", "source", c.path)
		return
	}

	e.state = StateRendered
	p.publish(c.path, e)
	p.metrics.RenderFinished(metrics.ResultSuccess, c.result.Duration)
	p.logger.Info(ctx, "Rendered graph", "source", c.path, "image", e.pair.Image,
		"duration_ms", c.result.Duration.Milliseconds())
}

func (p *Pipeline) removed(ctx context.Context, path string) {
	pair := p.config.Layout.PairFor(path)
	if e, ok := p.entries[path]; ok {
		if e.cancel != nil {
			e.cancel()
		}
		delete(p.entries, path)
	}
	p.unpublish(path)

	for _, target := range []string{pair.Image, pair.Page} {
		if _, err := artifact.Remove(target); err != nil {
			p.logger.Error(ctx, err, "Failed to remove artifact", "source", path)
		}
	}
	p.metrics.ArtifactsRemoved()
	p.logger.Info(ctx, "Removed graph", "source", path)
}

func (p *Pipeline) cancelAll() {
	for _, e := range p.entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
}

func (p *Pipeline) publish(path string, e *entry) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	p.status[path] = Status{Path: path, Image: e.pair.Image, Page: e.pair.Page, State: e.state}
}

func (p *Pipeline) unpublish(path string) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	delete(p.status, path)
}

// State returns the current state of a description file. Untracked files are absent.
func (p *Pipeline) State(path string) State {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status[path].State
}

// Statuses returns every tracked file, sorted by path.
func (p *Pipeline) Statuses() []Status {
	p.statusMu.RLock()
	out := make([]Status, 0, len(p.status))
	for _, s := range p.status {
		out = append(out, s)
	}
	p.statusMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// RenderFile renders one description file synchronously, outside of Run.
func (p *Pipeline) RenderFile(ctx context.Context, path string) (artifact.Pair, error) {
	pair := p.config.Layout.PairFor(path)
	tmp := artifact.TempImagePath(pair, 0)

	perf := logging.StartOperation(p.logger, "render")
	if err := p.renderer.Render(ctx, path, tmp); err != nil {
		os.Remove(tmp)
		perf.EndWithError(ctx, err, "source", path)
		return pair, err
	}
	if err := os.Rename(tmp, pair.Image); err != nil {
		os.Remove(tmp)
		return pair, errors.NewIOError("ERR_IMAGE_WRITE", "failed to move rendered image into place", err).
			WithPath(pair.Image)
	}
	perf.End(ctx, "source", path)

	if err := artifact.WritePage(pair, p.config.Template, p.config.Placeholder); err != nil {
		return pair, err
	}
	return pair, nil
}
