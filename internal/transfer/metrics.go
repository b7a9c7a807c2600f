package transfer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsOnce ensures metrics are only initialized once.
var metricsOnce sync.Once

// metricsInstance is the singleton instance of transfer metrics.
var metricsInstance *Metrics

// Metrics holds all Prometheus metrics for the transfer service.
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec   // filedepot_requests_total{operation,status}
	RequestDuration *prometheus.HistogramVec // filedepot_request_duration_seconds{operation}

	// Transfer metrics
	BytesUploaded   prometheus.Counter // filedepot_bytes_uploaded_total
	BytesDownloaded prometheus.Counter // filedepot_bytes_downloaded_total

	// Storage metrics
	PendingUploads prometheus.Gauge     // filedepot_pending_uploads
	CompleteFiles  prometheus.Gauge     // filedepot_complete_files
	VolumeBytes    *prometheus.GaugeVec // filedepot_volume_bytes{kind}

	// Janitor metrics
	ExpiredUploads  prometheus.Counter // filedepot_expired_uploads_total
	ExpiredSessions prometheus.Counter // filedepot_expired_sessions_total
}

// InitMetrics initializes all transfer metrics.
// Metrics are only registered once; subsequent calls return the same instance.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		metricsInstance = &Metrics{
			RequestsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "filedepot_requests_total",
				Help: "Total transfer requests by operation and status",
			}, []string{"operation", "status"}),

			RequestDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "filedepot_request_duration_seconds",
				Help:    "Transfer request duration in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),

			BytesUploaded: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "filedepot_bytes_uploaded_total",
				Help: "Total chunk bytes accepted from clients",
			}),

			BytesDownloaded: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "filedepot_bytes_downloaded_total",
				Help: "Total chunk bytes served to clients",
			}),

			PendingUploads: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "filedepot_pending_uploads",
				Help: "Number of uploads initialized but not finalized",
			}),

			CompleteFiles: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "filedepot_complete_files",
				Help: "Number of finalized files",
			}),

			VolumeBytes: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
				Name: "filedepot_volume_bytes",
				Help: "Chunk volume capacity by kind (total, used, available)",
			}, []string{"kind"}),

			ExpiredUploads: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "filedepot_expired_uploads_total",
				Help: "Pending uploads reclaimed by the janitor",
			}),

			ExpiredSessions: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "filedepot_expired_sessions_total",
				Help: "Idle sessions purged by the janitor",
			}),
		}
	})

	return metricsInstance
}

// GetMetrics returns the singleton transfer metrics instance.
// Returns nil if metrics have not been initialized.
func GetMetrics() *Metrics {
	return metricsInstance
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(operation string, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordUpload records bytes uploaded.
func (m *Metrics) RecordUpload(bytes int64) {
	if m == nil {
		return
	}
	m.BytesUploaded.Add(float64(bytes))
}

// RecordDownload records bytes downloaded.
func (m *Metrics) RecordDownload(bytes int64) {
	if m == nil {
		return
	}
	m.BytesDownloaded.Add(float64(bytes))
}

// UpdateFileCounts updates the pending and complete file gauges.
func (m *Metrics) UpdateFileCounts(pending, complete int) {
	if m == nil {
		return
	}
	m.PendingUploads.Set(float64(pending))
	m.CompleteFiles.Set(float64(complete))
}

// RecordSweep records janitor reclaim counts.
func (m *Metrics) RecordSweep(uploads, sessions int) {
	if m == nil {
		return
	}
	m.ExpiredUploads.Add(float64(uploads))
	m.ExpiredSessions.Add(float64(sessions))
}

// UpdateVolume updates the chunk volume capacity gauges.
func (m *Metrics) UpdateVolume(total, used, available int64) {
	if m == nil {
		return
	}
	m.VolumeBytes.WithLabelValues("total").Set(float64(total))
	m.VolumeBytes.WithLabelValues("used").Set(float64(used))
	m.VolumeBytes.WithLabelValues("available").Set(float64(available))
}
