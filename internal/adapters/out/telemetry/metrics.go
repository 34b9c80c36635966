// Package telemetry records run metrics for the node_exporter textfile collector.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bnema/pinup/internal/boundaries/out"
	"github.com/bnema/pinup/internal/domain"
)

const namespace = "pinup"

// Metrics holds pinup's Prometheus instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	textfile string

	// Projects
	ProjectsTotal   *prometheus.CounterVec
	ProjectDuration *prometheus.HistogramVec
	ServicesPinned  prometheus.Counter

	// Resolution
	ResolutionsTotal *prometheus.CounterVec

	LastRun prometheus.Gauge
}

// NewMetrics creates the instruments. Flush writes them to textfile; an
// empty path keeps them in memory only.
func NewMetrics(textfile string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		textfile: textfile,
		ProjectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_total",
			Help:      "Projects processed, by outcome",
		}, []string{"outcome"}),
		ProjectDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "project_duration_seconds",
			Help:      "Time spent on one project cycle",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		ServicesPinned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "services_pinned_total",
			Help:      "Services whose image was rewritten to a new digest",
		}),
		ResolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Digest lookups per registry host, by result",
		}, []string{"registry", "result"}),
		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}),
	}
}

// RecordProject implements out.MetricsRecorder.
func (m *Metrics) RecordProject(report domain.ProjectReport, elapsed time.Duration) {
	outcome := string(report.Outcome)
	m.ProjectsTotal.WithLabelValues(outcome).Inc()
	m.ProjectDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if report.Outcome == domain.OutcomeUpdated {
		m.ServicesPinned.Add(float64(len(report.Plan)))
	}
}

// RecordResolution implements out.MetricsRecorder.
func (m *Metrics) RecordResolution(registry string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.ResolutionsTotal.WithLabelValues(registry, result).Inc()
}

// Flush implements out.MetricsRecorder.
func (m *Metrics) Flush() error {
	if m.textfile == "" {
		return nil
	}

	m.LastRun.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(m.textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", m.textfile, err)
	}
	return nil
}

// Gatherer exposes the registry, for tests and ad-hoc exposition.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

var _ out.MetricsRecorder = (*Metrics)(nil)
