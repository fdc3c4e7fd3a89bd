// Package metrics exposes Prometheus instruments for the render and sync paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gstdots"

// Result label values.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultDiscarded = "discarded"
)

// Metrics holds every instrument, registered on its own registry so that
// several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	// renders counts finished renders. Labels: result (success, failure, discarded)
	renders *prometheus.CounterVec
	// renderDuration measures renderer process wall time.
	renderDuration prometheus.Histogram
	// pageWrites counts wrapper page writes. Labels: result (success, failure)
	pageWrites *prometheus.CounterVec
	// removals counts artifact pairs deleted after their description vanished.
	removals prometheus.Counter
	// registryEntries is the current number of gallery entries.
	registryEntries prometheus.Gauge
	// refreshes counts refresh signals sent to the fanout.
	refreshes prometheus.Counter
	// viewers is the current number of connected viewers.
	viewers prometheus.Gauge
	// droppedViewers counts viewers disconnected for falling behind.
	droppedViewers prometheus.Counter
}

// New creates the instruments on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		renders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "renders_total",
			Help:      "Total renders by result",
		}, []string{"result"}),
		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "render_duration_seconds",
			Help:      "Renderer process duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		pageWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "page_writes_total",
			Help:      "Total viewer page writes by result",
		}, []string{"result"}),
		removals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "removals_total",
			Help:      "Total artifact pairs removed",
		}),
		registryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "entries",
			Help:      "Number of graphs in the gallery",
		}),
		refreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "refresh_signals_total",
			Help:      "Total refresh signals broadcast",
		}),
		viewers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "viewers",
			Help:      "Number of connected viewers",
		}),
		droppedViewers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dropped_viewers_total",
			Help:      "Total viewers dropped for slow consumption",
		}),
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The recording methods are nil-safe so components can run without metrics.

// RenderFinished records one finished render.
func (m *Metrics) RenderFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(result).Inc()
	if result != ResultDiscarded {
		m.renderDuration.Observe(d.Seconds())
	}
}

// PageWritten records one page write.
func (m *Metrics) PageWritten(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.pageWrites.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.pageWrites.WithLabelValues(ResultSuccess).Inc()
}

// ArtifactsRemoved records one removed pair.
func (m *Metrics) ArtifactsRemoved() {
	if m == nil {
		return
	}
	m.removals.Inc()
}

// SetRegistryEntries sets the gallery size.
func (m *Metrics) SetRegistryEntries(n int) {
	if m == nil {
		return
	}
	m.registryEntries.Set(float64(n))
}

// RefreshSent records one broadcast refresh signal.
func (m *Metrics) RefreshSent() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}

// SetViewers sets the connected viewer count.
func (m *Metrics) SetViewers(n int) {
	if m == nil {
		return
	}
	m.viewers.Set(float64(n))
}

// ViewerDropped records one viewer dropped for falling behind.
func (m *Metrics) ViewerDropped() {
	if m == nil {
		return
	}
	m.droppedViewers.Inc()
}
