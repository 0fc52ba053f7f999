package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the proof-of-play service.
type Metrics struct {
	// Ingestion metrics
	BatchesTotal *prometheus.CounterVec
	BatchLatency *prometheus.HistogramVec
	RowsParsed   *prometheus.CounterVec
	RowsInserted *prometheus.CounterVec
	RowsDropped  *prometheus.CounterVec

	// Rollup metrics
	RollupRefreshes *prometheus.CounterVec

	// System metrics
	DBConnections *prometheus.GaugeVec
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		BatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "import_batches_total",
				Help:      "Total import batches by format and outcome",
			},
			[]string{"org_id", "format", "status"},
		),
		BatchLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "import_batch_latency_seconds",
				Help:      "End-to-end batch processing latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"format"},
		),
		RowsParsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_rows_parsed_total",
				Help:      "Total report rows handed to the extractor",
			},
			[]string{"org_id"},
		),
		RowsInserted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "play_rows_inserted_total",
				Help:      "Total play rows upserted",
			},
			[]string{"org_id"},
		),
		RowsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_rows_dropped_total",
				Help:      "Total report rows dropped, by reason",
			},
			[]string{"org_id", "reason"},
		),
		RollupRefreshes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_refreshes_total",
				Help:      "Daily rollup refresh attempts by status",
			},
			[]string{"status"},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint", "ip"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBatch records a completed (or failed) import batch.
func (m *Metrics) RecordBatch(orgID, format, status string, latency time.Duration) {
	m.BatchesTotal.WithLabelValues(orgID, format, status).Inc()
	if format != "" {
		m.BatchLatency.WithLabelValues(format).Observe(latency.Seconds())
	}
}

// RecordRowsParsed records rows handed to the extractor.
func (m *Metrics) RecordRowsParsed(orgID string, n int) {
	m.RowsParsed.WithLabelValues(orgID).Add(float64(n))
}

// RecordRowInserted records one upserted play row.
func (m *Metrics) RecordRowInserted(orgID string) {
	m.RowsInserted.WithLabelValues(orgID).Inc()
}

// RecordRowDropped records one dropped row with its reason.
func (m *Metrics) RecordRowDropped(orgID, reason string) {
	m.RowsDropped.WithLabelValues(orgID, reason).Inc()
}

// RecordRollupRefresh records a rollup refresh attempt.
func (m *Metrics) RecordRollupRefresh(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.RollupRefreshes.WithLabelValues(status).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint, ip string) {
	m.RateLimitHits.WithLabelValues(endpoint, ip).Inc()
}
