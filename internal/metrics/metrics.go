// Package metrics exports ingestion run figures for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/normalize"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "registry_ingest"

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	stageSeconds *prometheus.HistogramVec
	records      *prometheus.GaugeVec
	dangling     prometheus.Gauge
	duplicates   *prometheus.GaugeVec
	generation   prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"outcome"}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"stage"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Rows in the current snapshot.",
		}, []string{"entity"}),
		dangling: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dangling_associations",
			Help:      "Associations dropped in the last parsed document because a side was missing.",
		}),
		duplicates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duplicate_records",
			Help:      "Records skipped as duplicates in the last parsed document.",
		}, []string{"entity"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_generation",
			Help:      "Generation number of the current snapshot.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that replaced the snapshot or found it unchanged.",
		}),
	}
	m.registry.MustRegister(
		m.runs, m.stageSeconds, m.records, m.dangling, m.duplicates, m.generation, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveParse records the normalizer statistics of a run.
func (m *Metrics) ObserveParse(stats normalize.Stats) {
	m.dangling.Set(float64(stats.DanglingAssociations))
	m.duplicates.WithLabelValues("organization").Set(float64(stats.DuplicateOrganizations))
	m.duplicates.WithLabelValues("program").Set(float64(stats.DuplicatePrograms))
	m.duplicates.WithLabelValues("association").Set(float64(stats.DuplicateAssociations))
}

// ObserveSnapshot records the figures of a committed snapshot.
func (m *Metrics) ObserveSnapshot(info common.SnapshotInfo) {
	m.generation.Set(float64(info.Generation))
	m.records.WithLabelValues("organization").Set(float64(info.Organizations))
	m.records.WithLabelValues("program").Set(float64(info.Programs))
	m.records.WithLabelValues("association").Set(float64(info.Associations))
}

// ObserveRun counts a finished run. Outcomes other than "failed" also move
// the last success timestamp.
func (m *Metrics) ObserveRun(outcome string, finishedAt time.Time) {
	m.runs.WithLabelValues(outcome).Inc()
	if outcome != "failed" {
		m.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}
