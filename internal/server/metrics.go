package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	BroadcastsTotal   prometheus.Counter
	FramesTotal       *prometheus.CounterVec
	PanelErrorsTotal  prometheus.Counter
	BroadcastDuration prometheus.Histogram
}

// NewMetrics builds a self-contained registry so tests can run in parallel
// without collector name collisions.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_broadcasts_total",
			Help: "Broadcast stream requests accepted.",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_frames_total",
			Help: "Frames written to broadcast streams, by kind.",
		}, []string{"kind"}),
		PanelErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_panel_errors_total",
			Help: "Panels that terminated with an error frame.",
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_broadcast_duration_seconds",
			Help:    "Wall time from broadcast accept to stream close.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(m.BroadcastsTotal, m.FramesTotal, m.PanelErrorsTotal, m.BroadcastDuration)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
