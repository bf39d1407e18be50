package wavecache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector is the Prometheus implementation of MetricsCollector.
type PrometheusCollector struct {
	computeOperations *prometheus.CounterVec
	computeDuration   prometheus.Histogram
	computeSamples    prometheus.Counter
	minMaxOperations  *prometheus.CounterVec
	minMaxDuration    *prometheus.HistogramVec
	saveOperations    *prometheus.CounterVec
	pendingAtSave     prometheus.Histogram
	loadOperations    *prometheus.CounterVec
	rescheduledBlocks prometheus.Counter
	releaseOperations prometheus.Counter
	cacheFilesRemoved prometheus.Counter
}

// NewPrometheusCollector registers wavecache metrics with reg and returns
// the collector. Pass prometheus.DefaultRegisterer to use the default
// registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	return &PrometheusCollector{
		computeOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wavecache_compute_operations_total",
				Help: "Total number of background summary computations by status",
			},
			[]string{"status"}, // "ok", "error"
		),
		computeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wavecache_compute_duration_seconds",
				Help:    "Duration of background summary computations",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		computeSamples: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wavecache_compute_samples_total",
				Help: "Total number of samples summarized by committed computations",
			},
		),
		minMaxOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wavecache_minmax_operations_total",
				Help: "Total number of statistic queries by source and status",
			},
			[]string{"source", "status"}, // source: "summary", "live"
		),
		minMaxDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wavecache_minmax_duration_seconds",
				Help:    "Duration of statistic queries by source",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"source"},
		),
		saveOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wavecache_save_operations_total",
				Help: "Total number of project saves by status",
			},
			[]string{"status"},
		),
		pendingAtSave: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wavecache_save_pending_blocks",
				Help:    "Blocks saved before their summary finished computing",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		loadOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wavecache_load_operations_total",
				Help: "Total number of project loads by status",
			},
			[]string{"status"},
		),
		rescheduledBlocks: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wavecache_rescheduled_blocks_total",
				Help: "Blocks whose summary re-entered the computation queue on load",
			},
		),
		releaseOperations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wavecache_release_operations_total",
				Help: "Total number of block releases",
			},
		),
		cacheFilesRemoved: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wavecache_cache_files_removed_total",
				Help: "Summary cache files removed by a final release",
			},
		),
	}
}

// RecordCompute implements MetricsCollector.
func (p *PrometheusCollector) RecordCompute(samples int64, duration time.Duration, err error) {
	p.computeOperations.WithLabelValues(statusLabel(err)).Inc()
	p.computeDuration.Observe(duration.Seconds())
	if err == nil {
		p.computeSamples.Add(float64(samples))
	}
}

// RecordMinMax implements MetricsCollector.
func (p *PrometheusCollector) RecordMinMax(cached bool, duration time.Duration, err error) {
	source := "live"
	if cached {
		source = "summary"
	}
	p.minMaxOperations.WithLabelValues(source, statusLabel(err)).Inc()
	p.minMaxDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordSave implements MetricsCollector.
func (p *PrometheusCollector) RecordSave(blocks, pending int, duration time.Duration, err error) {
	p.saveOperations.WithLabelValues(statusLabel(err)).Inc()
	if err == nil && pending > 0 {
		p.pendingAtSave.Observe(float64(pending))
	}
}

// RecordLoad implements MetricsCollector.
func (p *PrometheusCollector) RecordLoad(blocks, rescheduled int, duration time.Duration, err error) {
	p.loadOperations.WithLabelValues(statusLabel(err)).Inc()
	p.rescheduledBlocks.Add(float64(rescheduled))
}

// RecordRelease implements MetricsCollector.
func (p *PrometheusCollector) RecordRelease(removed bool) {
	p.releaseOperations.Inc()
	if removed {
		p.cacheFilesRemoved.Inc()
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
