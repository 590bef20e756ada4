// Package metrics exports sync pipeline metrics to Prometheus.
package metrics

import (
	"database/sql"
	"time"

	"mailsync_server/core/port/out"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "email_sync"

// SyncCollector implements out.MetricsSink.
type SyncCollector struct {
	registry *prometheus.Registry

	lastDuration   prometheus.Gauge
	savedPerSecond prometheus.Gauge
	processed      prometheus.Counter
	saved          prometheus.Counter
	parseFailed    prometheus.Counter
	runs           *prometheus.CounterVec
	batchDuration  prometheus.Histogram
}

// NewSyncCollector registers the sync metrics and the Go runtime
// collectors on a fresh registry.
func NewSyncCollector() *SyncCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &SyncCollector{
		registry: reg,
		lastDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Wall time of the most recent sync run.",
		}),
		savedPerSecond: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "saved_per_second",
			Help:      "Records saved per second in the most recent sync run.",
		}),
		processed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Messages fetched from mail servers.",
		}),
		saved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_saved_total",
			Help:      "Message records written to the store.",
		}),
		parseFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_parse_failed_total",
			Help:      "Messages dropped because they could not be parsed.",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sync runs by outcome; failures are labelled with their error code.",
		}, []string{"status"}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to fetch, parse and store one batch.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// Registry is served on /metrics.
func (c *SyncCollector) Registry() *prometheus.Registry { return c.registry }

// RegisterDB exports database/sql pool statistics under db_name.
func (c *SyncCollector) RegisterDB(name string, db *sql.DB) error {
	return c.registry.Register(collectors.NewDBStatsCollector(db, name))
}

func (c *SyncCollector) ObserveRun(durationMs int64, totalSaved int) {
	seconds := float64(durationMs) / 1000
	c.lastDuration.Set(seconds)
	if durationMs > 0 {
		c.savedPerSecond.Set(float64(totalSaved) / seconds)
	} else {
		c.savedPerSecond.Set(0)
	}
	c.runs.WithLabelValues("succeeded").Inc()
}

func (c *SyncCollector) ObserveBatch(size, saved, parseFailed int, elapsed time.Duration) {
	c.processed.Add(float64(size))
	c.saved.Add(float64(saved))
	c.parseFailed.Add(float64(parseFailed))
	c.batchDuration.Observe(elapsed.Seconds())
}

func (c *SyncCollector) ObserveFailure(code string) {
	c.runs.WithLabelValues(code).Inc()
}

var _ out.MetricsSink = (*SyncCollector)(nil)
