// Package metrics exposes Prometheus counters for layout and refresh work.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Layouts     *prometheus.CounterVec
	Lanes       prometheus.Histogram
	Refreshes   *prometheus.CounterVec
	FetchErrors prometheus.Counter
	Occurrences prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Layouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daygrid_layouts_total",
			Help: "Layouts computed, by kind (day, scaled).",
		}, []string{"kind"}),
		Lanes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "daygrid_layout_lanes",
			Help:    "Lanes needed per computed layout.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daygrid_refresh_total",
			Help: "Agenda refreshes, by result (ok, partial, failed).",
		}, []string{"result"}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "daygrid_fetch_errors_total",
			Help: "ICS sources that could not be fetched.",
		}),
		Occurrences: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daygrid_occurrences",
			Help: "Occurrences in the current agenda snapshot.",
		}),
	}
	reg.MustRegister(
		m.Layouts, m.Lanes, m.Refreshes, m.FetchErrors, m.Occurrences,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveLayout(kind string, lanes int) {
	if m == nil {
		return
	}
	m.Layouts.WithLabelValues(kind).Inc()
	m.Lanes.Observe(float64(lanes))
}

func (m *Metrics) ObserveRefresh(result string, fetchErrors, occurrences int) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
	m.FetchErrors.Add(float64(fetchErrors))
	m.Occurrences.Set(float64(occurrences))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
