// Package server is the HTTP entry point: the gallery page, its JSON feed,
// the refresh-signal websocket and the rendered artifacts.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/gstdots/internal/artifact"
	"github.com/conneroisu/gstdots/internal/logging"
	"github.com/conneroisu/gstdots/internal/metrics"
	"github.com/conneroisu/gstdots/internal/middleware"
	"github.com/conneroisu/gstdots/internal/pipeline"
	"github.com/conneroisu/gstdots/internal/registry"
	"github.com/conneroisu/gstdots/internal/version"
)

// ArtifactsPrefix is the URL prefix under which the output directory is served.
const ArtifactsPrefix = "/artifacts/"

// Graphs is the ordered gallery content.
type Graphs interface {
	Snapshot() []registry.Entry
}

// Statuses reports the render state of every description file.
type Statuses interface {
	Statuses() []pipeline.Status
}

// Viewers accepts refresh-signal connections.
type Viewers interface {
	http.Handler
	Count() int
}

// Config holds listener settings.
type Config struct {
	Host  string
	Port  int
	Title string
}

// Server serves the gallery.
type Server struct {
	config   Config
	layout   artifact.Layout
	graphs   Graphs
	statuses Statuses
	viewers  Viewers
	metrics  *metrics.Metrics
	logger   logging.Logger

	httpServer *http.Server
	listener   net.Listener
	mutex      sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a server. statuses may be nil.
func New(config Config, layout artifact.Layout, graphs Graphs, statuses Statuses, viewers Viewers, opts ...Option) *Server {
	if config.Title == "" {
		config.Title = "Pipeline graphs"
	}
	s := &Server{
		config:   config,
		layout:   layout,
		graphs:   graphs,
		statuses: statuses,
		viewers:  viewers,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	s.logger = s.logger.WithComponent("server")
	return s
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/graphs", s.handleGraphs)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", s.viewers)
	mux.Handle("GET "+ArtifactsPrefix, http.StripPrefix(ArtifactsPrefix, http.FileServer(http.Dir(s.layout.Dir))))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	chain := middleware.NewChain(
		middleware.Recovery(s.logger),
		middleware.Logging(s.logger),
		middleware.SecurityHeaders(),
	)
	return chain.Apply(mux)
}

// Addr returns the bound listener address once Start has begun listening.
func (s *Server) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.mutex.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer
	s.mutex.Unlock()

	s.logger.Info(ctx, "Serving gallery", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	server := s.httpServer
	s.mutex.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info(ctx, "Server stopped")
	return nil
}

func (s *Server) views() []GraphView {
	entries := s.graphs.Snapshot()
	views := make([]GraphView, len(entries))
	for i, e := range entries {
		views[i] = newGraphView(e, s.layout)
	}
	return views
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	templ.Handler(Gallery(s.config.Title, s.views())).ServeHTTP(w, r)
}

// GraphsResponse is the body of /api/graphs.
type GraphsResponse struct {
	Graphs []GraphView `json:"graphs"`
}

func (s *Server) handleGraphs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, GraphsResponse{Graphs: s.views()})
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Version string            `json:"version"`
	Graphs  int               `json:"graphs"`
	Viewers int               `json:"viewers"`
	Sources []pipeline.Status `json:"sources"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version: version.Get().Short(),
		Graphs:  len(s.graphs.Snapshot()),
		Viewers: s.viewers.Count(),
		Sources: []pipeline.Status{},
	}
	if s.statuses != nil {
		resp.Sources = s.statuses.Statuses()
	}
	writeJSON(w, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
